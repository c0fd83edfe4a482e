package pgsink

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	guuid "github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/testsupport/testdb"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_DB_TESTS") != "" {
		os.Exit(0)
	}
	pool = testdb.InitTestDB()
	code := m.Run()
	pool.Close()
	os.Exit(code)
}

func TestSink_Publish(t *testing.T) {
	ctx := context.Background()
	s := New(pool)
	snap := func(a, b int) model.Snapshot {
		return model.Snapshot{Entries: []model.SnapshotEntry{
			{Runner: "001", LapRecord: model.LapRecord{DisplayLaps: a * 2, ActualLaps: a}},
			{Runner: "002", LapRecord: model.LapRecord{DisplayLaps: b, ActualLaps: b}},
		}}
	}
	require.NoError(t, s.Publish(ctx, snap(1, 0)).Err)
	require.NoError(t, s.Publish(ctx, snap(3, 1)).Err)

	got, err := readTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap(3, 1).Entries, got)
}

func TestSink_PublishEvent(t *testing.T) {
	ctx := context.Background()
	s := New(pool)
	base := time.Date(2025, 4, 26, 13, 0, 0, 0, time.UTC)
	ev1 := model.NewDetectionEvent("001", base, model.LapRecord{DisplayLaps: 1, ActualLaps: 1})
	ev2 := model.NewDetectionEvent("002", base.Add(time.Minute), model.LapRecord{DisplayLaps: 1, ActualLaps: 1})
	require.NoError(t, s.PublishEvent(ctx, ev1).Err)
	require.NoError(t, s.PublishEvent(ctx, ev2).Err)
	// duplicates are ignored
	require.NoError(t, s.PublishEvent(ctx, ev1).Err)

	got, err := readEvents(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ev1.ID, got[0].ID)
	assert.Equal(t, model.RunnerID("002"), got[1].Runner)
	assert.True(t, got[1].Timestamp.Equal(ev2.Timestamp))
}

func TestSink_PublishEventStoresNativeUUID(t *testing.T) {
	ctx := context.Background()
	s := New(pool)
	ev := model.NewDetectionEvent("003",
		time.Date(2025, 4, 26, 15, 0, 0, 0, time.UTC), model.LapRecord{DisplayLaps: 1, ActualLaps: 1})
	require.NoError(t, s.PublishEvent(ctx, ev).Err)

	var id uuid.UUID
	var typ string
	err := pool.QueryRow(ctx,
		"select id, pg_typeof(id)::text from lap_event where runner = $1", "003").Scan(&id, &typ)
	require.NoError(t, err)
	assert.Equal(t, "uuid", typ)
	assert.Equal(t, uuid.UUID(ev.ID), id)
}

func readTotals(ctx context.Context) ([]model.SnapshotEntry, error) {
	rows, err := pool.Query(ctx,
		"select runner, display_laps, actual_laps from lap_total order by runner")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SnapshotEntry, error) {
		var e model.SnapshotEntry
		var runner string
		err := row.Scan(&runner, &e.DisplayLaps, &e.ActualLaps)
		e.Runner = model.RunnerID(runner)
		return e, err
	})
}

// readEvents returns the recorded events in [from, to) ordered by time
func readEvents(ctx context.Context, from, to time.Time) ([]model.DetectionEvent, error) {
	rows, err := pool.Query(ctx, `
select id, runner, display_laps, actual_laps, recorded_at
from lap_event where recorded_at >= $1 and recorded_at < $2
order by recorded_at, id`, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DetectionEvent, error) {
		var e model.DetectionEvent
		var runner string
		var id uuid.UUID
		err := row.Scan(&id, &runner, &e.DisplayLaps, &e.ActualLaps, &e.Timestamp)
		e.ID = guuid.UUID(id)
		e.Runner = model.RunnerID(runner)
		return e, err
	})
}
