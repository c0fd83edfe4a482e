package processing

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

var ErrWriterClosed = errors.New("writer is closed")

const DefaultWriterBuffer = 256

type writeJob struct {
	snap *model.Snapshot
	ev   *model.DetectionEvent
}

// Writer moves store writes off the accept path. Writes are applied in submission
// order by a single goroutine. Entries still queued when the process dies are lost.
type Writer struct {
	store  Persister
	queue  chan writeJob
	done   chan struct{}
	mutex  sync.RWMutex
	closed bool
	errs   atomic.Int64
	l      *log.Logger
}

type WriterOption func(w *Writer)

func WithWriterBuffer(n int) WriterOption {
	return func(w *Writer) {
		w.queue = make(chan writeJob, max(n, 1))
	}
}

func WithWriterLogger(l *log.Logger) WriterOption {
	return func(w *Writer) {
		w.l = l
	}
}

func NewWriter(store Persister, opts ...WriterOption) *Writer {
	ret := &Writer{
		store: store,
		queue: make(chan writeJob, DefaultWriterBuffer),
		done:  make(chan struct{}),
		l:     log.Default().Named("writer"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	go ret.run()
	return ret
}

// PersistSnapshot queues the snapshot. It blocks only while the buffer is full.
func (w *Writer) PersistSnapshot(snap model.Snapshot) error {
	return w.enqueue(writeJob{snap: &snap})
}

func (w *Writer) AppendLogEntry(ev model.DetectionEvent) error {
	return w.enqueue(writeJob{ev: &ev})
}

// Errors returns the number of failed store writes
func (w *Writer) Errors() int64 {
	return w.errs.Load()
}

// Close waits until all queued writes are applied
func (w *Writer) Close() {
	w.mutex.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mutex.Unlock()
	<-w.done
}

func (w *Writer) enqueue(j writeJob) error {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.queue <- j
	return nil
}

func (w *Writer) run() {
	defer close(w.done)
	for j := range w.queue {
		var err error
		switch {
		case j.snap != nil:
			err = w.store.PersistSnapshot(*j.snap)
		case j.ev != nil:
			err = w.store.AppendLogEntry(*j.ev)
		}
		if err != nil {
			w.errs.Add(1)
			w.l.Error("store write failed", log.ErrorField(err))
		}
	}
}
