package natssink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/publish"
)

const (
	DefaultPrefix = "lapc"
	// key of the latest snapshot in the key value bucket
	snapshotKey = "snapshot"
)

// Sink publishes snapshots to <prefix>.snapshot and events to <prefix>.event.
// If a key value bucket is configured the latest snapshot is also stored there.
type Sink struct {
	conn   *nats.Conn
	prefix string
	kv     jetstream.KeyValue
	l      *log.Logger
}

type Option func(s *Sink)

func WithPrefix(prefix string) Option {
	return func(s *Sink) {
		s.prefix = prefix
	}
}

func WithKeyValue(kv jetstream.KeyValue) Option {
	return func(s *Sink) {
		s.kv = kv
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Sink) {
		s.l = l
	}
}

func New(conn *nats.Conn, opts ...Option) *Sink {
	ret := &Sink{
		conn:   conn,
		prefix: DefaultPrefix,
		l:      log.Default().Named("nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// SetupKeyValue creates (or updates) the bucket holding the latest snapshot
func SetupKeyValue(ctx context.Context, conn *nats.Conn, bucket string) (jetstream.KeyValue, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, err
	}
	return js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "latest lap count snapshot",
		History:     1,
	})
}

func (s *Sink) SnapshotSubject() string { return s.prefix + ".snapshot" }

func (s *Sink) EventSubject() string { return s.prefix + ".event" }

func (s *Sink) Name() string { return "nats" }

func (s *Sink) Publish(ctx context.Context, snap model.Snapshot) publish.Result {
	start := time.Now()
	data, err := json.Marshal(snap)
	if err == nil {
		err = s.conn.Publish(s.SnapshotSubject(), data)
	}
	if err == nil && s.kv != nil {
		if _, err = s.kv.Put(ctx, snapshotKey, data); err != nil {
			err = fmt.Errorf("store snapshot: %w", err)
		}
	}
	return publish.Done(s.Name(), publish.OpSnapshot, start, err)
}

func (s *Sink) PublishEvent(ctx context.Context, ev model.DetectionEvent) publish.Result {
	start := time.Now()
	data, err := json.Marshal(ev)
	if err == nil {
		err = s.conn.Publish(s.EventSubject(), data)
	}
	return publish.Done(s.Name(), publish.OpEvent, start, err)
}

// LatestSnapshot reads the snapshot stored in the key value bucket
func (s *Sink) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	if s.kv == nil {
		return nil, fmt.Errorf("no key value bucket configured")
	}
	entry, err := s.kv.Get(ctx, snapshotKey)
	if err != nil {
		return nil, err
	}
	var ret model.Snapshot
	if err := json.Unmarshal(entry.Value(), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Flush waits until the server has processed all published messages
func (s *Sink) Flush() error {
	return s.conn.Flush()
}

func (s *Sink) Close() {
	if err := s.conn.Drain(); err != nil {
		s.l.Warn("error draining nats connection", log.ErrorField(err))
	}
}
