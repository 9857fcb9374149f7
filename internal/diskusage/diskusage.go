// Package diskusage reports fill levels of the cache drive and the array.
package diskusage

import (
	"fmt"

	"github.com/caevv/smartmover/internal/config"
	"github.com/shirou/gopsutil/v3/disk"
)

// Usage is the fill level of one filesystem.
type Usage struct {
	Path        string  `json:"path"`
	Fstype      string  `json:"fstype"`
	Total       uint64  `json:"total_bytes"`
	Used        uint64  `json:"used_bytes"`
	Free        uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Report pairs the cache drive with the array it spills into.
type Report struct {
	Threshold     int    `json:"threshold"`
	Cache         *Usage `json:"cache,omitempty"`
	CacheError    string `json:"cache_error,omitempty"`
	Array         *Usage `json:"array,omitempty"`
	ArrayError    string `json:"array_error,omitempty"`
	OverThreshold bool   `json:"over_threshold"`
}

// Stat returns the usage of the filesystem holding path.
func Stat(path string) (Usage, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return Usage{}, fmt.Errorf("disk usage for %s: %w", path, err)
	}
	return Usage{
		Path:        path,
		Fstype:      u.Fstype,
		Total:       u.Total,
		Used:        u.Used,
		Free:        u.Free,
		UsedPercent: u.UsedPercent,
	}, nil
}

// NewReport stats the cache drive and array path from s. A path that cannot
// be read is reported in the matching error field instead of failing the
// whole report.
func NewReport(s config.Settings) Report {
	r := Report{Threshold: s.CacheThreshold}

	if u, err := Stat(s.CacheDrive); err != nil {
		r.CacheError = err.Error()
	} else {
		r.Cache = &u
		r.OverThreshold = u.UsedPercent >= float64(s.CacheThreshold)
	}

	if u, err := Stat(s.ArrayPath); err != nil {
		r.ArrayError = err.Error()
	} else {
		r.Array = &u
	}

	return r
}
