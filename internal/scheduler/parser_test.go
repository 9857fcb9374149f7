package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "every six hours", expr: "0 */6 * * *"},
		{name: "daily at 02:30", expr: "30 2 * * *"},
		{name: "weekdays", expr: "0 9 * * 1-5"},
		{name: "surrounding space", expr: "  0 3 * * *  "},
		{name: "hourly descriptor", expr: "@hourly"},
		{name: "every descriptor", expr: "@every 30m"},
		{name: "empty", expr: "", wantErr: true},
		{name: "blank", expr: "   ", wantErr: true},
		{name: "too few fields", expr: "0 3 * *", wantErr: true},
		{name: "seconds field", expr: "0 0 3 * * *", wantErr: true},
		{name: "out of range", expr: "61 * * * *", wantErr: true},
		{name: "garbage", expr: "every tuesday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := ParseSchedule(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidSchedule))
				assert.Nil(t, sched)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sched)
			assert.NoError(t, ValidateSchedule(tt.expr))
		})
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2024, 3, 10, 7, 15, 0, 0, time.UTC)

	next, err := NextRun("0 */6 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), next)

	onBoundary, err := NextRun("0 */6 * * *", time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC), onBoundary, "next fire is strictly after from")

	_, err = NextRun("bogus", from)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
