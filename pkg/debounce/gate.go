package debounce

import (
	"sync"
	"time"

	"github.com/thunderstriders/lapcounter/pkg/model"
)

const DefaultWindow = 30 * time.Second

// Gate turns a burst of detections of the same runner into one accepted event
// per pass. A detection is accepted if more than Window has elapsed since the
// last accepted detection of that runner. Runners never seen are always accepted.
type Gate struct {
	mutex    sync.Mutex
	window   time.Duration
	lastSeen map[model.RunnerID]time.Time
}

func NewGate(window time.Duration) *Gate {
	return &Gate{
		window:   window,
		lastSeen: make(map[model.RunnerID]time.Time),
	}
}

func (g *Gate) Window() time.Duration {
	return g.window
}

func (g *Gate) ShouldAccept(id model.RunnerID, now time.Time) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.shouldAccept(id, now)
}

func (g *Gate) RecordAccepted(id model.RunnerID, now time.Time) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.lastSeen[id] = now
}

// TryAccept checks and records in one step
func (g *Gate) TryAccept(id model.RunnerID, now time.Time) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if !g.shouldAccept(id, now) {
		return false
	}
	g.lastSeen[id] = now
	return true
}

// Restore seeds the last accepted detection times, e.g. from the scoreboard log.
// Existing entries are only replaced by later timestamps.
func (g *Gate) Restore(seen map[model.RunnerID]time.Time) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	for id, ts := range seen {
		if cur, ok := g.lastSeen[id]; !ok || ts.After(cur) {
			g.lastSeen[id] = ts
		}
	}
}

func (g *Gate) LastSeen(id model.RunnerID) (time.Time, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	ts, ok := g.lastSeen[id]
	return ts, ok
}

func (g *Gate) shouldAccept(id model.RunnerID, now time.Time) bool {
	last, ok := g.lastSeen[id]
	if !ok {
		return true
	}
	return now.Sub(last) > g.window
}
