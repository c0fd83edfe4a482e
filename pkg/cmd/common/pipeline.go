package common

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pgx-contrib/pgxtrace"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/bib"
	"github.com/thunderstriders/lapcounter/pkg/config"
	"github.com/thunderstriders/lapcounter/pkg/dashboard"
	"github.com/thunderstriders/lapcounter/pkg/db/postgres"
	"github.com/thunderstriders/lapcounter/pkg/debounce"
	"github.com/thunderstriders/lapcounter/pkg/leaderboard"
	"github.com/thunderstriders/lapcounter/pkg/ledger"
	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/processing"
	"github.com/thunderstriders/lapcounter/pkg/publish"
	"github.com/thunderstriders/lapcounter/pkg/publish/httpsink"
	"github.com/thunderstriders/lapcounter/pkg/publish/natssink"
	"github.com/thunderstriders/lapcounter/pkg/publish/pgsink"
	"github.com/thunderstriders/lapcounter/pkg/publish/sheetsink"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
	"github.com/thunderstriders/lapcounter/pkg/utils"
)

// PipelineFlags configures the accept pipeline and its publishers
type PipelineFlags struct {
	AsyncPersist     bool
	RestoreDebounce  bool
	DashboardURL     string
	DashboardKey     string
	EventAPIURL      string
	NatsPrefix       string
	NatsBucket       string
	SheetID          string
	SheetName        string
	SheetCredentials string
	ServeDashboard   string
	PublishTimeout   time.Duration
	PublishQueue     int
}

func (f *PipelineFlags) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&f.AsyncPersist, "async-persist", false,
		"write the scoreboard file in the background")
	fs.BoolVar(&f.RestoreDebounce, "restore-debounce", true,
		"restore the debounce state from the scoreboard log on startup")
	fs.StringVar(&config.DB, "db", "",
		"Connection string for the database, enables the postgres publisher")
	fs.StringVar(&config.NatsURL, "nats-url", "",
		"url of the NATS server, enables the NATS publisher")
	fs.StringVar(&f.NatsPrefix, "nats-prefix", natssink.DefaultPrefix,
		"subject prefix for NATS messages")
	fs.StringVar(&f.NatsBucket, "nats-kv-bucket", "",
		"JetStream key value bucket for the latest snapshot")
	fs.StringVar(&f.DashboardURL, "dashboard-url", "",
		"base url of a remote dashboard receiving lap counts")
	fs.StringVar(&f.DashboardKey, "dashboard-key", "",
		"api key sent to the remote dashboard")
	fs.StringVar(&f.EventAPIURL, "event-api-url", "",
		"base url of the event api receiving each lap")
	fs.StringVar(&f.SheetID, "sheet-id", "",
		"Google spreadsheet id, enables the sheets publisher")
	fs.StringVar(&f.SheetName, "sheet-name", "",
		"name of the worksheet (default: first sheet)")
	fs.StringVar(&f.SheetCredentials, "sheet-credentials", "",
		"service account credentials file for the sheets publisher")
	fs.StringVar(&f.ServeDashboard, "serve-dashboard", "",
		"listen address of an embedded dashboard, e.g. :5003")
	fs.DurationVar(&f.PublishTimeout, "publish-timeout", publish.DefaultTimeout,
		"timeout per publish call")
	fs.IntVar(&f.PublishQueue, "publish-queue", publish.DefaultQueueSize,
		"number of pending publish calls before new ones are dropped")
}

// Pipeline is the wired accept path of a counting session
type Pipeline struct {
	Race       *config.Race
	Store      *scoreboard.Store
	Processor  *processing.Processor
	Dispatcher *publish.Dispatcher
	writer     *processing.Writer
	closers    []func()
}

type PipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	manualDebounce bool
}

// WithManualDebounce applies the debounce window to manual registrations
func WithManualDebounce(enabled bool) PipelineOption {
	return func(o *pipelineOptions) {
		o.manualDebounce = enabled
	}
}

//nolint:funlen // wiring
func NewPipeline(ctx context.Context, f *PipelineFlags, opts ...PipelineOption) (*Pipeline, error) {
	po := &pipelineOptions{}
	for _, opt := range opts {
		opt(po)
	}
	race, err := config.RaceFromFlags()
	if err != nil {
		return nil, err
	}
	validator, err := bib.NewValidator(race.IDs, bib.WithConfidenceThreshold(race.ConfidenceThreshold))
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Race: race, Store: NewStore(race.IDs.Len())}
	l := ledger.New(race.IDs, ledger.WithBonusPolicy(race.Bonus))
	gate := debounce.NewGate(race.DebounceWindow)

	var restoreGate *debounce.Gate
	if f.RestoreDebounce {
		restoreGate = gate
	}
	info, err := processing.Restore(p.Store, l, restoreGate)
	if err != nil {
		return nil, err
	}
	log.Info("scoreboard loaded",
		log.String("path", p.Store.Path()),
		log.Int("runners", info.Runners),
		log.Int("debounce restored", info.Restored),
		log.Int("total laps", l.Total().DisplayLaps))

	sinks, err := p.setupSinks(ctx, f)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Dispatcher = publish.NewDispatcher(sinks,
		publish.WithQueueSize(f.PublishQueue),
		publish.WithTimeout(f.PublishTimeout))

	var store processing.Persister = p.Store
	if f.AsyncPersist {
		p.writer = processing.NewWriter(p.Store)
		store = p.writer
	}
	p.Processor, err = processing.NewProcessor(
		processing.WithValidator(validator),
		processing.WithGate(gate),
		processing.WithLedger(l),
		processing.WithStore(store),
		processing.WithPublisher(p.Dispatcher),
		processing.WithManualDebounce(po.manualDebounce),
	)
	if err != nil {
		p.Close()
		return nil, err
	}
	// initial state for the publishers
	p.Dispatcher.SubmitSnapshot(l.Snapshot())
	return p, nil
}

//nolint:funlen,cyclop // one block per publisher
func (p *Pipeline) setupSinks(ctx context.Context, f *PipelineFlags) ([]publish.Publisher, error) {
	var sinks []publish.Publisher
	if f.ServeDashboard != "" {
		srv, err := NewDashboardServer(p.Race)
		if err != nil {
			return nil, err
		}
		ch := make(chan model.Snapshot, 16)
		sinks = append(sinks, publish.NewChannelSink("local-dashboard", ch))
		dctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for snap := range ch {
				srv.Update(snap)
			}
		}()
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := dashboard.Serve(dctx, f.ServeDashboard, srv); err != nil {
				log.Error("dashboard stopped", log.ErrorField(err))
			}
		}()
		p.closers = append(p.closers, func() {
			close(ch)
			<-done
			cancel()
			<-served
		})
	}
	if f.DashboardURL != "" {
		if err := WaitForHTTP(ctx, f.DashboardURL); err != nil {
			log.Warn("dashboard not reachable yet", log.ErrorField(err))
		}
		var dashOpts []httpsink.Option
		if f.DashboardKey != "" {
			dashOpts = append(dashOpts, httpsink.WithAPIKey(f.DashboardKey))
		}
		sinks = append(sinks, httpsink.NewDashboardSink(f.DashboardURL, dashOpts...))
	}
	if f.EventAPIURL != "" {
		s, err := httpsink.NewEventSink(f.EventAPIURL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if config.DB != "" || config.NatsURL != "" {
		err := WaitForServices(ctx,
			utils.ExtractFromDBURL(config.DB), utils.ExtractFromNatsURL(config.NatsURL))
		if err != nil {
			return nil, fmt.Errorf("required services not ready: %w", err)
		}
	}
	if config.NatsURL != "" {
		conn, err := nats.Connect(config.NatsURL, nats.Name("lapc"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		natsOpts := []natssink.Option{natssink.WithPrefix(f.NatsPrefix)}
		if f.NatsBucket != "" {
			kv, err := natssink.SetupKeyValue(ctx, conn, f.NatsBucket)
			if err != nil {
				conn.Close()
				return nil, err
			}
			natsOpts = append(natsOpts, natssink.WithKeyValue(kv))
		}
		s := natssink.New(conn, natsOpts...)
		sinks = append(sinks, s)
		p.closers = append(p.closers, s.Close)
	}
	if config.DB != "" {
		tracer := pgxtrace.CompositeQueryTracer{
			postgres.NewLogTracer(log.Default().Named("sql"), log.DebugLevel),
		}
		if config.EnableTelemetry {
			tracer = append(tracer, postgres.NewOtlpTracer())
		}
		pool, err := postgres.InitWithURL(ctx, config.DB, postgres.WithTracer(tracer))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pgsink.New(pool))
		p.closers = append(p.closers, pool.Close)
	}
	if f.SheetID != "" {
		if f.SheetCredentials == "" {
			return nil, errors.New("--sheet-credentials is required with --sheet-id")
		}
		client, err := sheetsink.ClientFromCredentialsFile(ctx, f.SheetCredentials)
		if err != nil {
			return nil, err
		}
		sheetOpts := []sheetsink.Option{sheetsink.WithHTTPClient(client)}
		if f.SheetName != "" {
			sheetOpts = append(sheetOpts, sheetsink.WithSheet(f.SheetName))
		}
		sheet, err := sheetsink.New(ctx, f.SheetID, p.Store.Layout(), sheetOpts...)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sheet)
	}
	for _, s := range sinks {
		log.Info("publishing to", log.String("sink", s.Name()))
	}
	return sinks, nil
}

// Close flushes pending writes and publications and releases the publishers
func (p *Pipeline) Close() {
	if p.writer != nil {
		p.writer.Close()
		if n := p.writer.Errors(); n > 0 {
			log.Warn("scoreboard writes failed", log.Int64("count", n))
		}
	}
	if p.Dispatcher != nil {
		p.Dispatcher.Close()
		if n := p.Dispatcher.Dropped(); n > 0 {
			log.Warn("publications dropped", log.Int64("count", n))
		}
	}
	for _, c := range slices.Backward(p.closers) {
		c()
	}
	p.closers = nil
}

// NewDashboardServer creates a dashboard showing the runner names of the race
//
//nolint:whitespace // editor/linter issue
func NewDashboardServer(
	race *config.Race, opts ...dashboard.Option,
) (*dashboard.Server, error) {
	lapLength, err := decimal.NewFromString(config.LapLengthKm)
	if err != nil {
		return nil, fmt.Errorf("invalid lap length %q: %w", config.LapLengthKm, err)
	}
	opts = append([]dashboard.Option{dashboard.WithBuilder(leaderboard.NewBuilder(
		leaderboard.WithLapLength(lapLength),
		leaderboard.WithNames(race.IDs.Name),
	))}, opts...)
	return dashboard.NewServer(opts...), nil
}

// WaitForHTTP waits until url answers any request
func WaitForHTTP(ctx context.Context, url string) error {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		timeout = 60 * time.Second
	}
	return utils.WaitForHTTPResponse(ctx, url, timeout)
}
