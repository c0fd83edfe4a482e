package publish

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

const (
	DefaultQueueSize = 64
	DefaultTimeout   = 5 * time.Second
)

type job struct {
	op   Op
	snap model.Snapshot
	ev   model.DetectionEvent
}

// Dispatcher delivers snapshots and events to its sinks on a single goroutine.
// Submitting never blocks: when the queue is full the message is dropped.
// Messages are delivered in submission order.
type Dispatcher struct {
	sinks     []Publisher
	queue     chan job
	timeout   time.Duration
	onResult  func(Result)
	l         *log.Logger
	mutex     sync.RWMutex
	closed    bool
	done      chan struct{}
	dropped   atomic.Int64
	queueSize int
	counter   metric.Int64Counter
	tracer    trace.Tracer
}

type DispatcherOption func(d *Dispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.queueSize = n
	}
}

// WithTimeout limits the duration of a single sink call
func WithTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = t
	}
}

// WithResultHandler registers a callback invoked for each sink result
func WithResultHandler(f func(Result)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onResult = f
	}
}

func WithDispatcherLogger(l *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.l = l
	}
}

// WithDispatcherTracerProvider replaces the global provider for the delivery spans
func WithDispatcherTracerProvider(tp trace.TracerProvider) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = tp.Tracer("lapc.publish")
	}
}

func NewDispatcher(sinks []Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:     sinks,
		timeout:   DefaultTimeout,
		queueSize: DefaultQueueSize,
		l:         log.Default().Named("publish"),
		done:      make(chan struct{}),
		tracer:    otel.Tracer("lapc.publish"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan job, max(d.queueSize, 1))
	var err error
	if d.counter, err = otel.GetMeterProvider().Meter("lapc.publish").Int64Counter(
		"lapc.publish.results",
		metric.WithDescription("Number of publish calls by sink and outcome"),
		metric.WithUnit("{count}")); err != nil {
		d.l.Warn("failed to register metric", log.ErrorField(err))
	}
	go d.run()
	return d
}

func (d *Dispatcher) SubmitSnapshot(snap model.Snapshot) bool {
	return d.submit(job{op: OpSnapshot, snap: snap})
}

func (d *Dispatcher) SubmitEvent(ev model.DetectionEvent) bool {
	return d.submit(job{op: OpEvent, ev: ev})
}

// Dropped returns the number of messages discarded because the queue was full or closed
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting messages and waits until the queued ones are delivered
func (d *Dispatcher) Close() {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mutex.Unlock()
	<-d.done
	d.l.Debug("dispatcher closed", log.Int64("dropped", d.dropped.Load()))
}

func (d *Dispatcher) submit(j job) bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.queue <- j:
		return true
	default:
		d.dropped.Add(1)
		d.l.Warn("publish queue full, dropping message", log.String("op", string(j.op)))
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		for _, s := range d.sinks {
			d.handle(d.deliver(s, j))
		}
	}
}

func (d *Dispatcher) deliver(s Publisher, j job) Result {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, "publish "+string(j.op),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("sink", s.Name()),
			attribute.String("op", string(j.op))))
	defer span.End()

	var r Result
	if j.op == OpEvent {
		span.SetAttributes(attribute.String("runner", string(j.ev.Runner)))
		r = s.PublishEvent(ctx, j.ev)
	} else {
		r = s.Publish(ctx, j.snap)
	}
	span.SetAttributes(attribute.Bool("skipped", r.Skipped))
	if r.Err != nil {
		span.RecordError(r.Err)
		span.SetStatus(codes.Error, "publish failed")
	}
	return r
}

func (d *Dispatcher) handle(r Result) {
	if r.Skipped {
		return
	}
	if d.counter != nil {
		d.counter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("sink", r.Sink),
			attribute.String("op", string(r.Op)),
			attribute.Bool("ok", r.OK())))
	}
	if r.Err != nil {
		d.l.Warn("publish failed",
			log.String("sink", r.Sink), log.String("op", string(r.Op)),
			log.Duration("duration", r.Duration), log.ErrorField(r.Err))
	} else {
		d.l.Debug("published",
			log.String("sink", r.Sink), log.String("op", string(r.Op)),
			log.Duration("duration", r.Duration))
	}
	if d.onResult != nil {
		d.onResult(r)
	}
}
