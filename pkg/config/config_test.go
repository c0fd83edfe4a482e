package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderstriders/lapcounter/pkg/ledger"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

func setDefaults() {
	RosterFile = ""
	IDFrom, IDTo, IDWidth = 1, 200, 3
	DebounceWindow = "30s"
	ConfidenceMin = 0.5
	BonusStartHour, BonusEndHour, BonusMultiplier = 0, 0, 2
}

func TestRaceFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		modify  func()
		check   func(t *testing.T, r *Race)
		wantErr bool
	}{
		{
			name: "defaults",
			check: func(t *testing.T, r *Race) {
				assert.Equal(t, 200, r.IDs.Len())
				assert.True(t, r.IDs.Contains("007"))
				assert.Equal(t, 30*time.Second, r.DebounceWindow)
				assert.Equal(t, ledger.NoBonus, r.Bonus)
			},
		},
		{
			name:   "bonus window",
			modify: func() { BonusStartHour, BonusEndHour = 2, 3 },
			check: func(t *testing.T, r *Race) {
				w, ok := r.Bonus.(*ledger.HourWindow)
				require.True(t, ok)
				assert.Equal(t, 2, w.Increment(time.Date(2025, 4, 27, 2, 15, 0, 0, time.Local)))
			},
		},
		{name: "bad duration", modify: func() { DebounceWindow = "soon" }, wantErr: true},
		{name: "negative duration", modify: func() { DebounceWindow = "-1s" }, wantErr: true},
		{name: "bad bonus hour", modify: func() { BonusStartHour = 25 }, wantErr: true},
		{name: "bad confidence", modify: func() { ConfidenceMin = 1.5 }, wantErr: true},
		{name: "bad range", modify: func() { IDFrom, IDTo = 10, 1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setDefaults()
			if tt.modify != nil {
				tt.modify()
			}
			r, err := RaceFromFlags()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRace)
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}

func TestRaceFromFlags_Roster(t *testing.T) {
	setDefaults()
	RosterFile = filepath.Join(t.TempDir(), "roster.yml")
	require.NoError(t, os.WriteFile(RosterFile,
		[]byte("runners:\n  - id: \"001\"\n    name: Alice\n  - id: \"017\"\n"), 0o600))
	r, err := RaceFromFlags()
	require.NoError(t, err)
	assert.Equal(t, []model.RunnerID{"001", "017"}, r.IDs.Sorted())
	assert.Equal(t, "Alice", r.IDs.Name("001"))
}
