package sheetsink

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/publish"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
)

// Sink mirrors the scoreboard layout into a google sheet: totals in A1:C{N+1},
// the log table starting at the same offset as in the csv artifact.
type Sink struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheetID string
	sheet         string
	layout        scoreboard.Layout
	loc           *time.Location
	mutex         sync.Mutex
	headerWritten bool
}

type Config struct {
	client   *http.Client
	endpoint string
	sheet    string
	loc      *time.Location
}

type Option func(cfg *Config)

func WithHTTPClient(c *http.Client) Option {
	return func(cfg *Config) {
		cfg.client = c
	}
}

// WithEndpoint overrides the api base url (used for tests)
func WithEndpoint(u string) Option {
	return func(cfg *Config) {
		cfg.endpoint = u
	}
}

// WithSheet selects the worksheet, default is the first one
func WithSheet(name string) Option {
	return func(cfg *Config) {
		cfg.sheet = name
	}
}

func WithLocation(loc *time.Location) Option {
	return func(cfg *Config) {
		cfg.loc = loc
	}
}

//nolint:whitespace // editor/linter issue
func New(
	ctx context.Context, spreadsheetID string, layout scoreboard.Layout, opts ...Option,
) (*Sink, error) {
	cfg := &Config{client: http.DefaultClient, loc: time.Local}
	for _, opt := range opts {
		opt(cfg)
	}
	svcOpts := []option.ClientOption{option.WithHTTPClient(cfg.client)}
	if cfg.endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(cfg.endpoint))
	}
	svc, err := sheets.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Sink{
		values:        svc.Spreadsheets.Values,
		spreadsheetID: spreadsheetID,
		sheet:         cfg.sheet,
		layout:        layout,
		loc:           cfg.loc,
	}, nil
}

// ClientFromCredentialsFile creates an authorized client for a service account key file
func ClientFromCredentialsFile(ctx context.Context, path string) (*http.Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return oauth2.NewClient(ctx, creds.TokenSource), nil
}

func (s *Sink) Name() string { return "sheets" }

func (s *Sink) Publish(ctx context.Context, snap model.Snapshot) publish.Result {
	start := time.Now()
	values := [][]any{toAny(scoreboard.TotalsHeader)}
	for _, e := range snap.Entries {
		values = append(values, []any{string(e.Runner), e.DisplayLaps, e.ActualLaps})
	}
	rng := s.a1(fmt.Sprintf("A1:C%d", s.layout.TotalsRows+1))
	return publish.Done(s.Name(), publish.OpSnapshot, start, s.update(ctx, rng, values))
}

func (s *Sink) PublishEvent(ctx context.Context, ev model.DetectionEvent) publish.Result {
	start := time.Now()
	headerRow := s.layout.LogHeaderIndex() + 1
	if err := s.ensureLogHeader(ctx, headerRow); err != nil {
		return publish.Done(s.Name(), publish.OpEvent, start, fmt.Errorf("write log header: %w", err))
	}
	row := []any{
		string(ev.Runner),
		ev.DisplayLaps,
		ev.Timestamp.In(s.loc).Format(scoreboard.TimestampLayout),
	}
	rng := s.a1(fmt.Sprintf("A%d:C", headerRow))
	_, err := s.values.Append(s.spreadsheetID, rng, valueRange(rng, [][]any{row})).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return publish.Done(s.Name(), publish.OpEvent, start, err)
}

// ensureLogHeader writes the log header once per sink, a failed attempt is retried with the next event
func (s *Sink) ensureLogHeader(ctx context.Context, row int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.headerWritten {
		return nil
	}
	rng := s.a1(fmt.Sprintf("A%d:C%d", row, row))
	if err := s.update(ctx, rng, [][]any{toAny(scoreboard.LogHeader)}); err != nil {
		return err
	}
	s.headerWritten = true
	return nil
}

func (s *Sink) update(ctx context.Context, rng string, values [][]any) error {
	_, err := s.values.Update(s.spreadsheetID, rng, valueRange(rng, values)).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (s *Sink) a1(r string) string {
	if s.sheet == "" {
		return r
	}
	return s.sheet + "!" + r
}

func valueRange(rng string, values [][]any) *sheets.ValueRange {
	return &sheets.ValueRange{Range: rng, MajorDimension: "ROWS", Values: values}
}

func toAny(s []string) []any {
	ret := make([]any, len(s))
	for i, v := range s {
		ret[i] = v
	}
	return ret
}
