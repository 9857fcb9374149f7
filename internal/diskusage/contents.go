package diskusage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrInvalidPath is returned for absolute paths and paths escaping the root.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound is returned when the requested path does not exist.
	ErrNotFound = errors.New("path not found")
	// ErrNotDirectory is returned when the requested path is a file.
	ErrNotDirectory = errors.New("path is not a directory")
)

// Entry is one item in a directory listing.
type Entry struct {
	Name      string `json:"name"`
	Type      string `json:"type"` // "folder" or "file"
	SizeBytes int64  `json:"size_bytes"`
	ItemCount int    `json:"item_count,omitempty"`
}

// Listing is the content of one directory below the cache root.
type Listing struct {
	// Path is relative to the root and always starts with "/".
	Path  string  `json:"path"`
	Items []Entry `json:"items"`
}

// ListContents lists the directory rel below root, folders first, then
// files, each group sorted by name. Folder sizes and item counts cover the
// whole subtree.
func ListContents(root, rel string) (Listing, error) {
	clean, err := cleanRelative(rel)
	if err != nil {
		return Listing{}, err
	}

	dir := filepath.Join(root, clean)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return Listing{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return Listing{}, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Listing{}, fmt.Errorf("%w: %s", ErrNotDirectory, rel)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Listing{}, fmt.Errorf("read %s: %w", dir, err)
	}

	items := make([]Entry, 0, len(entries))
	for _, de := range entries {
		full := filepath.Join(dir, de.Name())
		if de.IsDir() {
			size, count := walkSize(full)
			items = append(items, Entry{Name: de.Name(), Type: "folder", SizeBytes: size, ItemCount: count})
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		items = append(items, Entry{Name: de.Name(), Type: "file", SizeBytes: fi.Size()})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Type != items[j].Type {
			return items[i].Type == "folder"
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})

	return Listing{Path: "/" + filepath.ToSlash(clean), Items: items}, nil
}

// cleanRelative rejects absolute paths and any ".." component.
func cleanRelative(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" || rel == "/" {
		return "", nil
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
		}
	}
	clean := filepath.Clean(rel)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// walkSize sums file sizes below dir and counts every entry beneath it.
// Unreadable entries are skipped.
func walkSize(dir string) (int64, int) {
	var size int64
	count := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if path == dir {
			return nil
		}
		count++
		if !d.IsDir() {
			if fi, err := d.Info(); err == nil {
				size += fi.Size()
			}
		}
		return nil
	})
	return size, count
}
