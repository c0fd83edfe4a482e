package lottery

import (
	"bytes"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lotterypkg "github.com/thunderstriders/lapcounter/pkg/lottery"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
)

func testStore(t *testing.T) *scoreboard.Store {
	t.Helper()
	fs := afero.NewMemMapFs()
	data := strings.Join([]string{
		"Race Number,Lap Count,Actual Laps",
		"001,2,2", "002,1,1",
		"", "", "", "", "",
		"Race Number,Lap Count,Timestamp",
		"001,1,2025-04-26 23:10:00",
		"002,1,2025-04-27 00:20:00",
		"001,2,2025-04-27 05:00:00",
	}, "\n") + "\n"
	require.NoError(t, afero.WriteFile(fs, "/laps.csv", []byte(data), 0o644))
	return scoreboard.NewStore("/laps.csv", scoreboard.NewLayout(2),
		scoreboard.WithFs(fs), scoreboard.WithLocation(time.UTC))
}

func TestDraw(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		want    []string
		wantErr error
	}{
		{
			name: "window with tickets",
			opts: options{start: 23, end: 1},
			want: []string{"Laps between 23:00 and 01:00: 2 tickets, 2 runners", "Winner: 00"},
		},
		{
			name: "empty window",
			opts: options{start: 10, end: 12},
			want: []string{"0 tickets", "No race numbers found in the window."},
		},
		{name: "invalid hours", opts: options{start: 10, end: 24}, wantErr: lotterypkg.ErrInvalidHours},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			err := draw(out, testStore(t), &tt.opts, rand.New(rand.NewPCG(1, 1)))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}
}
