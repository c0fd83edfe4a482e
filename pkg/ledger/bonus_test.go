package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInHourWindow(t *testing.T) {
	tests := []struct {
		name             string
		hour, start, end int
		want             bool
	}{
		{name: "inside", hour: 2, start: 2, end: 3, want: true},
		{name: "end exclusive", hour: 3, start: 2, end: 3, want: false},
		{name: "before", hour: 1, start: 2, end: 3, want: false},
		{name: "wrap late", hour: 23, start: 22, end: 2, want: true},
		{name: "wrap early", hour: 1, start: 22, end: 2, want: true},
		{name: "wrap end exclusive", hour: 2, start: 22, end: 2, want: false},
		{name: "wrap outside", hour: 12, start: 22, end: 2, want: false},
		{name: "empty window", hour: 5, start: 5, end: 5, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InHourWindow(tt.hour, tt.start, tt.end))
		})
	}
}

func TestHourWindow_Increment(t *testing.T) {
	w, err := NewHourWindow(2, 3, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, w.Increment(time.Date(2025, 1, 1, 2, 59, 59, 0, time.UTC)))
	assert.Equal(t, 1, w.Increment(time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, NoBonus.Increment(time.Now()))
}

func TestNewHourWindow_Invalid(t *testing.T) {
	_, err := NewHourWindow(-1, 3, 2)
	assert.Error(t, err)
	_, err = NewHourWindow(2, 24, 2)
	assert.Error(t, err)
	_, err = NewHourWindow(2, 3, 0)
	assert.Error(t, err)
}
