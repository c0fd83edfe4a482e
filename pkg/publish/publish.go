package publish

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/thunderstriders/lapcounter/pkg/model"
)

type Op string

const (
	OpSnapshot Op = "snapshot"
	OpEvent    Op = "event"
)

// Publisher pushes ledger state to an external consumer.
// Implementations are best effort: failures are reported in the Result, never panicked.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snap model.Snapshot) Result
	PublishEvent(ctx context.Context, ev model.DetectionEvent) Result
}

// Result is the outcome of a single publish call
type Result struct {
	Sink     string
	Op       Op
	Err      error
	Duration time.Duration
	Skipped  bool // the sink does not handle this kind of message
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Done builds the Result of a call started at start
func Done(sink string, op Op, start time.Time, err error) Result {
	return Result{Sink: sink, Op: op, Err: err, Duration: time.Since(start)}
}

func Skip(sink string, op Op) Result {
	return Result{Sink: sink, Op: op, Skipped: true}
}

// Multi calls every contained publisher in order and merges the outcome.
type Multi struct {
	pubs []Publisher
}

func NewMulti(pubs ...Publisher) *Multi {
	return &Multi{pubs: pubs}
}

func (m *Multi) Publishers() []Publisher {
	return m.pubs
}

func (m *Multi) Name() string {
	names := make([]string, len(m.pubs))
	for i, p := range m.pubs {
		names[i] = p.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

func (m *Multi) Publish(ctx context.Context, snap model.Snapshot) Result {
	return m.each(OpSnapshot, func(p Publisher) Result { return p.Publish(ctx, snap) })
}

func (m *Multi) PublishEvent(ctx context.Context, ev model.DetectionEvent) Result {
	return m.each(OpEvent, func(p Publisher) Result { return p.PublishEvent(ctx, ev) })
}

func (m *Multi) each(op Op, call func(p Publisher) Result) Result {
	start := time.Now()
	var errs []error
	for _, p := range m.pubs {
		if r := call(p); r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return Done(m.Name(), op, start, errors.Join(errs...))
}
