package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/exaring/otelpgx"
	pgxuuid "github.com/jackc/pgx-gofrs-uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxtrace"

	"github.com/thunderstriders/lapcounter/log"
)

type PoolConfigOption func(cfg *pgxpool.Config)

// WithTracer installs tracer for every connection of the pool.
// Several tracers can be combined with pgxtrace.CompositeQueryTracer.
func WithTracer(tracer pgx.QueryTracer) PoolConfigOption {
	return func(cfg *pgxpool.Config) {
		cfg.ConnConfig.Tracer = tracer
	}
}

// NewLogTracer logs every executed statement on the given level
func NewLogTracer(logger *log.Logger, level log.Level) pgx.QueryTracer {
	return &queryTracer{l: logger, level: level}
}

// NewOtlpTracer creates otel spans for executed statements
func NewOtlpTracer() pgx.QueryTracer {
	return otelpgx.NewTracer()
}

func WithMaxConns(n int32) PoolConfigOption {
	return func(cfg *pgxpool.Config) {
		cfg.MaxConns = n
	}
}

// InitWithURL creates a connection pool and checks the connection.
// Every connection encodes gofrs uuid.UUID values as native uuid.
func InitWithURL(ctx context.Context, url string, opts ...PoolConfigOption) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	dbConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxuuid.Register(conn.TypeMap())
		return nil
	}
	for _, opt := range opts {
		opt(dbConfig)
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if hasOtelTracer(dbConfig.ConnConfig.Tracer) {
		if err := otelpgx.RecordStats(pool); err != nil {
			log.Warn("could not record pool stats", log.ErrorField(err))
		}
	}
	return pool, nil
}

func hasOtelTracer(t pgx.QueryTracer) bool {
	switch tracer := t.(type) {
	case *otelpgx.Tracer:
		return true
	case pgxtrace.CompositeQueryTracer:
		return slices.ContainsFunc(tracer, hasOtelTracer)
	}
	return false
}

type queryTracer struct {
	l     *log.Logger
	level log.Level
}

func (t *queryTracer) TraceQueryStart(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	if t.level == log.DebugLevel {
		t.l.Debug("executing", log.String("sql", data.SQL), log.Any("args", data.Args))
	} else {
		t.l.Info("executing", log.String("sql", data.SQL), log.Any("args", data.Args))
	}
	return ctx
}

//nolint:whitespace // can't make the linters happy
func (t *queryTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	if data.Err != nil {
		t.l.Warn("statement failed", log.ErrorField(data.Err))
	}
}
