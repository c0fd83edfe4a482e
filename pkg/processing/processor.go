package processing

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/bib"
	"github.com/thunderstriders/lapcounter/pkg/debounce"
	"github.com/thunderstriders/lapcounter/pkg/ledger"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

// Persister stores the ledger state. Implemented by scoreboard.Store and Writer.
type Persister interface {
	PersistSnapshot(snap model.Snapshot) error
	AppendLogEntry(ev model.DetectionEvent) error
}

// Submitter hands snapshots and events to the publishers without blocking.
// Implemented by publish.Dispatcher.
type Submitter interface {
	SubmitSnapshot(snap model.Snapshot) bool
	SubmitEvent(ev model.DetectionEvent) bool
}

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonLowConfidence Reason = "low_confidence"
	ReasonNoDigits      Reason = "no_digits"
	ReasonUnknownID     Reason = "unknown_id"
	ReasonDebounced     Reason = "debounced"
)

// ManualConfidence is used for runner numbers entered by an operator
const ManualConfidence = 1.0

// Outcome describes what happened to a single candidate
type Outcome struct {
	Candidate  model.Candidate
	Runner     model.RunnerID
	Accepted   bool
	Reason     Reason
	Record     model.LapRecord
	Event      *model.DetectionEvent
	PersistErr error
}

// Processor runs the accept path: validate, debounce, count, persist, publish.
// Gate and ledger mutations and the persistence calls are serialized.
type Processor struct {
	mutex         sync.Mutex
	validator     *bib.Validator
	gate          *debounce.Gate
	ledger        *ledger.Ledger
	store         Persister
	publisher     Submitter
	clock         func() time.Time
	manualGate    bool
	l             *log.Logger
	tracer        trace.Tracer
	acceptCounter metric.Int64Counter
	rejectCounter metric.Int64Counter
	persistErrors metric.Int64Counter
}

type ProcessorOption func(proc *Processor)

func WithValidator(v *bib.Validator) ProcessorOption {
	return func(proc *Processor) {
		proc.validator = v
	}
}

func WithGate(g *debounce.Gate) ProcessorOption {
	return func(proc *Processor) {
		proc.gate = g
	}
}

func WithLedger(l *ledger.Ledger) ProcessorOption {
	return func(proc *Processor) {
		proc.ledger = l
	}
}

func WithStore(s Persister) ProcessorOption {
	return func(proc *Processor) {
		proc.store = s
	}
}

func WithPublisher(s Submitter) ProcessorOption {
	return func(proc *Processor) {
		proc.publisher = s
	}
}

// WithClock sets the time source for frames the recognizer did not stamp.
// Recorded streams without "ts" are stamped at replay speed, so the debounce
// window is measured against processing time instead of capture time.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(proc *Processor) {
		proc.clock = clock
	}
}

// WithManualDebounce applies the debounce gate to manual registrations too
func WithManualDebounce(enabled bool) ProcessorOption {
	return func(proc *Processor) {
		proc.manualGate = enabled
	}
}

// WithTracerProvider replaces the global provider for the processing spans
func WithTracerProvider(tp trace.TracerProvider) ProcessorOption {
	return func(proc *Processor) {
		proc.tracer = tp.Tracer("lapc.processing")
	}
}

func WithLogger(l *log.Logger) ProcessorOption {
	return func(proc *Processor) {
		proc.l = l
	}
}

var (
	ErrMissingValidator = errors.New("processor requires a validator")
	ErrMissingLedger    = errors.New("processor requires a ledger")
)

func NewProcessor(opts ...ProcessorOption) (*Processor, error) {
	ret := &Processor{
		clock:  time.Now,
		l:      log.Default().Named("processing"),
		tracer: otel.Tracer("lapc.processing"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.validator == nil {
		return nil, ErrMissingValidator
	}
	if ret.ledger == nil {
		return nil, ErrMissingLedger
	}
	if ret.gate == nil {
		ret.gate = debounce.NewGate(debounce.DefaultWindow)
	}
	ret.setupMetrics()
	return ret, nil
}

func (p *Processor) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("lapc.processing")
	var err error
	if p.acceptCounter, err = meter.Int64Counter("lapc.detections.accepted",
		metric.WithDescription("Number of accepted detections"),
		metric.WithUnit("{count}")); err != nil {
		p.l.Warn("failed to register metric", log.ErrorField(err))
	}
	if p.rejectCounter, err = meter.Int64Counter("lapc.detections.rejected",
		metric.WithDescription("Number of rejected candidates by reason"),
		metric.WithUnit("{count}")); err != nil {
		p.l.Warn("failed to register metric", log.ErrorField(err))
	}
	if p.persistErrors, err = meter.Int64Counter("lapc.persist.errors",
		metric.WithDescription("Number of failed store writes"),
		metric.WithUnit("{count}")); err != nil {
		p.l.Warn("failed to register metric", log.ErrorField(err))
	}
}

func (p *Processor) Ledger() *ledger.Ledger {
	return p.ledger
}

// ProcessFrame handles the candidates of a frame in order, all stamped with the
// capture time of the frame or the current time if the frame has none
func (p *Processor) ProcessFrame(frame model.Frame) []Outcome {
	now := frame.Time
	if now.IsZero() {
		now = p.clock()
	}
	ret := make([]Outcome, 0, len(frame.Candidates))
	for _, c := range frame.Candidates {
		ret = append(ret, p.Process(c, now))
	}
	return ret
}

// Process handles one candidate detected at now
func (p *Processor) Process(c model.Candidate, now time.Time) Outcome {
	return p.process(c, now, true)
}

// Register counts a runner number entered by an operator.
// The debounce gate is only consulted if enabled with WithManualDebounce.
func (p *Processor) Register(text string, now time.Time) Outcome {
	return p.process(model.Candidate{Text: text, Confidence: ManualConfidence}, now, p.manualGate)
}

func (p *Processor) process(c model.Candidate, now time.Time, useGate bool) Outcome {
	_, span := p.tracer.Start(context.Background(), "process candidate",
		trace.WithAttributes(
			attribute.String("text", c.Text),
			attribute.Float64("confidence", c.Confidence),
			attribute.Bool("gated", useGate)))
	defer span.End()

	ret := p.evaluate(c, now, useGate)
	span.SetAttributes(
		attribute.String("runner", string(ret.Runner)),
		attribute.Bool("accepted", ret.Accepted),
		attribute.String("reason", string(ret.Reason)))
	if ret.PersistErr != nil {
		span.RecordError(ret.PersistErr)
		span.SetStatus(codes.Error, "persist failed")
	}
	return ret
}

func (p *Processor) evaluate(c model.Candidate, now time.Time, useGate bool) Outcome {
	ret := Outcome{Candidate: c}
	id, err := p.validator.Validate(c)
	if err != nil {
		ret.Reason = reasonFor(err)
		p.reject(c, ret.Reason)
		return ret
	}
	ret.Runner = id

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if useGate {
		if !p.gate.TryAccept(id, now) {
			ret.Reason = ReasonDebounced
			p.reject(c, ret.Reason)
			return ret
		}
	} else {
		p.gate.RecordAccepted(id, now)
	}

	rec, err := p.ledger.AcceptDetection(id, now)
	if err != nil {
		p.l.Error("runner accepted by validator but unknown to ledger",
			log.String("runner", string(id)), log.ErrorField(err))
		ret.Reason = ReasonUnknownID
		return ret
	}
	ev := model.NewDetectionEvent(id, now, rec)
	ret.Accepted = true
	ret.Record = rec
	ret.Event = &ev
	p.l.Info("lap counted",
		log.String("runner", string(id)),
		log.Int("display", rec.DisplayLaps),
		log.Int("actual", rec.ActualLaps))
	if p.acceptCounter != nil {
		p.acceptCounter.Add(context.Background(), 1)
	}

	snap := p.ledger.Snapshot()
	ret.PersistErr = p.persist(snap, ev)
	if p.publisher != nil {
		p.publisher.SubmitSnapshot(snap)
		p.publisher.SubmitEvent(ev)
	}
	return ret
}

// persist writes the totals and appends the log entry.
// Failures are logged, the in-memory ledger stays authoritative.
func (p *Processor) persist(snap model.Snapshot, ev model.DetectionEvent) error {
	if p.store == nil {
		return nil
	}
	var errs []error
	if err := p.store.PersistSnapshot(snap); err != nil {
		errs = append(errs, err)
	}
	if err := p.store.AppendLogEntry(ev); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil {
		p.l.Error("could not persist lap count",
			log.String("runner", string(ev.Runner)), log.ErrorField(err))
		if p.persistErrors != nil {
			p.persistErrors.Add(context.Background(), int64(len(errs)))
		}
	}
	return err
}

func (p *Processor) reject(c model.Candidate, reason Reason) {
	p.l.Debug("candidate rejected",
		log.String("text", c.Text),
		log.Float64("confidence", c.Confidence),
		log.String("reason", string(reason)))
	if p.rejectCounter != nil {
		p.rejectCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", string(reason))))
	}
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, bib.ErrLowConfidence):
		return ReasonLowConfidence
	case errors.Is(err, bib.ErrNoDigits):
		return ReasonNoDigits
	default:
		return ReasonUnknownID
	}
}
