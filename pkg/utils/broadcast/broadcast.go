package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thunderstriders/lapcounter/log"
)

const DefaultSendTimeout = 50 * time.Millisecond

// Server fans out each message of source to all subscribers.
// A subscriber not ready within the send timeout misses that message.
type Server[T any] struct {
	name        string
	source      <-chan T
	sendTimeout time.Duration
	mutex       sync.Mutex
	listeners   map[chan T]struct{}
	closed      bool
	cancel      context.CancelFunc
	done        chan struct{}
	numRcv      atomic.Int64
	numSnd      atomic.Int64
	numSkip     atomic.Int64
	metrics     metric.Registration
	l           *log.Logger
}

type Option[T any] func(*Server[T])

func WithSendTimeout[T any](d time.Duration) Option[T] {
	return func(s *Server[T]) {
		s.sendTimeout = d
	}
}

func WithLogger[T any](l *log.Logger) Option[T] {
	return func(s *Server[T]) {
		s.l = l
	}
}

// New starts serving until Close is called or source is closed
func New[T any](name string, source <-chan T, opts ...Option[T]) *Server[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server[T]{
		name:        name,
		source:      source,
		sendTimeout: DefaultSendTimeout,
		listeners:   map[chan T]struct{}{},
		cancel:      cancel,
		done:        make(chan struct{}),
		l:           log.Default().Named("broadcast"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMetrics()
	go s.serve(ctx)
	return s
}

// Subscribe returns a channel receiving the messages and a function to cancel the
// subscription. The channel is closed on cancel or when the server stops.
func (s *Server[T]) Subscribe() (ch <-chan T, cancel func()) {
	c := make(chan T, 1)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		close(c)
		return c, func() {}
	}
	s.listeners[c] = struct{}{}
	return c, func() { s.remove(c) }
}

func (s *Server[T]) remove(c chan T) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.listeners[c]; ok {
		delete(s.listeners, c)
		close(c)
	}
}

func (s *Server[T]) Listeners() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.listeners)
}

func (s *Server[T]) Close() {
	s.cancel()
	<-s.done
	if s.metrics != nil {
		//nolint:errcheck // provider is shutting down anyway
		s.metrics.Unregister()
		s.metrics = nil
	}
	s.l.Info("broadcast closed",
		log.String("name", s.name),
		log.Int64("rcv", s.numRcv.Load()),
		log.Int64("snd", s.numSnd.Load()),
		log.Int64("skip", s.numSkip.Load()))
}

func (s *Server[T]) serve(ctx context.Context) {
	defer func() {
		s.mutex.Lock()
		for c := range s.listeners {
			close(c)
		}
		clear(s.listeners)
		s.closed = true
		s.mutex.Unlock()
		close(s.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.source:
			if !ok {
				return
			}
			s.numRcv.Add(1)
			s.fanout(msg)
		}
	}
}

func (s *Server[T]) fanout(msg T) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()
	for c := range s.listeners {
		select {
		case c <- msg:
			s.numSnd.Add(1)
			continue
		default:
		}
		select {
		case c <- msg:
			s.numSnd.Add(1)
		case <-ctx.Done():
			s.numSkip.Add(1)
		}
	}
}

func (s *Server[T]) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("lapc.broadcast")
	attrs := metric.WithAttributes(attribute.String("name", s.name))
	rcv, err1 := meter.Int64ObservableCounter("lapc.broadcast.rcv",
		metric.WithDescription("Number of received messages"), metric.WithUnit("{count}"))
	snd, err2 := meter.Int64ObservableCounter("lapc.broadcast.snd",
		metric.WithDescription("Number of sent messages"), metric.WithUnit("{count}"))
	skip, err3 := meter.Int64ObservableCounter("lapc.broadcast.skip",
		metric.WithDescription("Number of skipped messages"), metric.WithUnit("{count}"))
	listeners, err4 := meter.Int64ObservableGauge("lapc.broadcast.listener",
		metric.WithDescription("Number of listeners"), metric.WithUnit("{count}"))
	for _, err := range []error{err1, err2, err3, err4} {
		if err != nil {
			s.l.Error("failed to create instrument", log.ErrorField(err))
			return
		}
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(rcv, s.numRcv.Load(), attrs)
		o.ObserveInt64(snd, s.numSnd.Load(), attrs)
		o.ObserveInt64(skip, s.numSkip.Load(), attrs)
		o.ObserveInt64(listeners, int64(s.Listeners()), attrs)
		return nil
	}, rcv, snd, skip, listeners)
	if err != nil {
		s.l.Error("failed to register metrics", log.String("name", s.name), log.ErrorField(err))
		return
	}
	s.metrics = reg
}
