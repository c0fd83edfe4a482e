package pgsink

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/publish"
)

// Sink stores the totals in lap_total and every accepted detection in lap_event.
// The pool must be created by postgres.InitWithURL so event ids bind as native uuid.
type Sink struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

func (s *Sink) Name() string { return "postgres" }

func (s *Sink) Publish(ctx context.Context, snap model.Snapshot) publish.Result {
	start := time.Now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range snap.Entries {
			batch.Queue(`
insert into lap_total (runner, display_laps, actual_laps, updated_at)
values ($1, $2, $3, now())
on conflict (runner) do update
set display_laps = excluded.display_laps,
    actual_laps = excluded.actual_laps,
    updated_at = excluded.updated_at`,
				string(e.Runner), e.DisplayLaps, e.ActualLaps)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		err = fmt.Errorf("upsert totals: %w", err)
	}
	return publish.Done(s.Name(), publish.OpSnapshot, start, err)
}

func (s *Sink) PublishEvent(ctx context.Context, ev model.DetectionEvent) publish.Result {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
insert into lap_event (id, runner, display_laps, actual_laps, recorded_at)
values ($1, $2, $3, $4, $5)
on conflict (id) do nothing`,
		uuid.UUID(ev.ID), string(ev.Runner), ev.DisplayLaps, ev.ActualLaps, ev.Timestamp)
	if err != nil {
		err = fmt.Errorf("insert event: %w", err)
	}
	return publish.Done(s.Name(), publish.OpEvent, start, err)
}
