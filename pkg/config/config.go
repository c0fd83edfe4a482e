package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/thunderstriders/lapcounter/pkg/bib"
	"github.com/thunderstriders/lapcounter/pkg/debounce"
	"github.com/thunderstriders/lapcounter/pkg/ledger"
)

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB                string  // connection string for the database (pg sink, migrate)
	NatsURL           string  // url of the NATS server (nats sink)
	WaitForServices   string  // duration to wait for other services to be ready
	LogLevel          string  // sets the log level (zap log level values)
	LogFormat         string  // text vs json
	LogFilter         string  // zapfilter rules, e.g. "*:* -debug:capture"
	EnableTelemetry   bool    // enable telemetry
	TelemetryEndpoint string  // otlp grpc endpoint, "stdout" prints to stdout
	ScoreboardFile    string  // path of the scoreboard csv
	IDFrom            int     // first runner number
	IDTo              int     // last runner number
	IDWidth           int     // zero padded width of runner numbers
	RosterFile        string  // yaml roster, replaces the id range if set
	DebounceWindow    string  // minimum duration between two laps of a runner
	ConfidenceMin     float64 // minimum recognizer confidence
	BonusStartHour    int     // first hour of the bonus window
	BonusEndHour      int     // end hour (exclusive) of the bonus window, equal to start disables
	BonusMultiplier   int     // display laps credited per lap within the bonus window
	LapLengthKm       string  // lap length used for the distance
)

var ErrInvalidRace = errors.New("invalid race configuration")

// Race holds the typed race configuration
type Race struct {
	IDs                 *bib.IDSet
	DebounceWindow      time.Duration
	ConfidenceThreshold float64
	Bonus               ledger.BonusPolicy
}

// RaceFromFlags builds the race configuration from the resolved flag values
func RaceFromFlags() (*Race, error) {
	var ids *bib.IDSet
	var err error
	if RosterFile != "" {
		ids, err = bib.LoadRoster(RosterFile)
	} else {
		ids, err = bib.NewRangeSet(IDFrom, IDTo, IDWidth)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRace, err)
	}
	window := debounce.DefaultWindow
	if DebounceWindow != "" {
		if window, err = time.ParseDuration(DebounceWindow); err != nil {
			return nil, fmt.Errorf("%w: debounce window: %w", ErrInvalidRace, err)
		}
	}
	if window < 0 {
		return nil, fmt.Errorf("%w: negative debounce window %s", ErrInvalidRace, window)
	}
	if ConfidenceMin < 0 || ConfidenceMin > 1 {
		return nil, fmt.Errorf("%w: confidence must be within 0..1, got %v", ErrInvalidRace, ConfidenceMin)
	}
	bonus := ledger.NoBonus
	if BonusStartHour != BonusEndHour {
		w, err := ledger.NewHourWindow(BonusStartHour, BonusEndHour, BonusMultiplier)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRace, err)
		}
		bonus = w
	}
	return &Race{
		IDs:                 ids,
		DebounceWindow:      window,
		ConfidenceThreshold: ConfidenceMin,
		Bonus:               bonus,
	}, nil
}
