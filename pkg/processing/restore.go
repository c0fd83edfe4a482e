package processing

import (
	"fmt"
	"time"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/debounce"
	"github.com/thunderstriders/lapcounter/pkg/ledger"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

// Source provides previously persisted state. Implemented by scoreboard.Store.
type Source interface {
	Load() (map[model.RunnerID]model.LapRecord, error)
	LastSeen() (map[model.RunnerID]time.Time, error)
}

type RestoreInfo struct {
	Runners  int // runners seeded into the ledger
	Restored int // runners with a restored debounce timestamp
}

// Restore seeds the ledger from src. If gate is not nil, the last logged detection
// per runner is restored into it.
func Restore(src Source, l *ledger.Ledger, gate *debounce.Gate) (RestoreInfo, error) {
	ret := RestoreInfo{}
	records, err := src.Load()
	if err != nil {
		return ret, fmt.Errorf("load scoreboard: %w", err)
	}
	ret.Runners = l.Seed(records)
	if ignored := len(records) - ret.Runners; ignored > 0 {
		log.Warn("ignored persisted runners outside the race", log.Int("count", ignored))
	}
	if gate == nil {
		return ret, nil
	}
	seen, err := src.LastSeen()
	if err != nil {
		return ret, fmt.Errorf("read last seen: %w", err)
	}
	gate.Restore(seen)
	ret.Restored = len(seen)
	return ret, nil
}
