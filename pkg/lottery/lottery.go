package lottery

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/samber/lo"

	"github.com/thunderstriders/lapcounter/pkg/ledger"
	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
)

var (
	ErrEmpty        = errors.New("no race numbers found")
	ErrInvalidHours = errors.New("hours must be within 0..23")
)

// ValidateHours checks the lottery window bounds
func ValidateHours(start, end int) error {
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return fmt.Errorf("%w: got %d..%d", ErrInvalidHours, start, end)
	}
	return nil
}

// ExtractWindow returns the runners of all log entries recorded within the clock hours
// [start, end), wrapping past midnight when start > end. Each lap is one ticket, so a
// runner appears once per logged lap, in log order.
func ExtractWindow(entries []scoreboard.LogEntry, start, end int) ([]model.RunnerID, error) {
	if err := ValidateHours(start, end); err != nil {
		return nil, err
	}
	matching := lo.Filter(entries, func(e scoreboard.LogEntry, _ int) bool {
		return ledger.InHourWindow(e.Timestamp.Hour(), start, end)
	})
	return lo.Map(matching, func(e scoreboard.LogEntry, _ int) model.RunnerID {
		return e.Runner
	}), nil
}

// Draw picks one ticket uniformly at random
func Draw(tickets []model.RunnerID, rng *rand.Rand) (model.RunnerID, error) {
	if len(tickets) == 0 {
		return "", ErrEmpty
	}
	return tickets[rng.IntN(len(tickets))], nil
}

// Tally counts the tickets per runner
func Tally(tickets []model.RunnerID) map[model.RunnerID]int {
	return lo.CountValues(tickets)
}
