package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thunderstriders/lapcounter/pkg/bib"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

var ErrUnknownRunner = errors.New("unknown runner")

// Ledger is the authoritative id -> lap record mapping. All mutations are serialized.
type Ledger struct {
	mutex   sync.Mutex
	ids     *bib.IDSet
	records map[model.RunnerID]*model.LapRecord
	bonus   BonusPolicy
	clock   func() time.Time
}

type Option func(l *Ledger)

func WithBonusPolicy(p BonusPolicy) Option {
	return func(l *Ledger) {
		l.bonus = p
	}
}

// WithClock sets the wall clock the bonus policy is evaluated against
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// New creates a ledger with a zero record for every id of the set
func New(ids *bib.IDSet, opts ...Option) *Ledger {
	ret := &Ledger{
		ids:     ids,
		records: make(map[model.RunnerID]*model.LapRecord, ids.Len()),
		bonus:   NoBonus,
		clock:   time.Now,
	}
	for _, id := range ids.Sorted() {
		ret.records[id] = &model.LapRecord{}
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Seed overrides records with previously persisted values.
// Ids outside the universe and negative counts are ignored. Returns the number of applied records.
func (l *Ledger) Seed(records map[model.RunnerID]model.LapRecord) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	applied := 0
	for id, rec := range records {
		cur, ok := l.records[id]
		if !ok || rec.DisplayLaps < 0 || rec.ActualLaps < 0 {
			continue
		}
		*cur = rec
		applied++
	}
	return applied
}

// AcceptDetection credits one lap to the runner. It must only be called for detections
// accepted by the debounce gate. The bonus policy is evaluated at the ledger's wall clock.
//
//nolint:whitespace // editor/linter issue
func (l *Ledger) AcceptDetection(id model.RunnerID, now time.Time) (
	model.LapRecord, error,
) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return model.LapRecord{}, fmt.Errorf("%w: %q", ErrUnknownRunner, id)
	}
	rec.ActualLaps++
	rec.DisplayLaps += l.bonus.Increment(l.clock())
	return *rec, nil
}

func (l *Ledger) Get(id model.RunnerID) (model.LapRecord, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return model.LapRecord{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of the complete state, ordered by numeric runner id
func (l *Ledger) Snapshot() model.Snapshot {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	ret := model.Snapshot{
		Entries:   make([]model.SnapshotEntry, 0, len(l.records)),
		Timestamp: l.clock(),
	}
	for _, id := range l.ids.Sorted() {
		ret.Entries = append(ret.Entries, model.SnapshotEntry{Runner: id, LapRecord: *l.records[id]})
	}
	return ret
}

// Total returns the sums of display and actual laps over all runners
func (l *Ledger) Total() model.LapRecord {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	ret := model.LapRecord{}
	for _, r := range l.records {
		ret.DisplayLaps += r.DisplayLaps
		ret.ActualLaps += r.ActualLaps
	}
	return ret
}
