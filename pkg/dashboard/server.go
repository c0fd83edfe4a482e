package dashboard

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/leaderboard"
	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/utils"
	"github.com/thunderstriders/lapcounter/pkg/utils/broadcast"
)

//go:embed templates
var templates embed.FS

const (
	DefaultTitle   = "Race Lap Dashboard"
	DefaultRefresh = 5
	// APIKeyHeader carries the key for POST /update
	APIKeyHeader = "X-API-Key"
)

// Server renders the live leaderboard. State is replaced by every update.
type Server struct {
	mutex    sync.RWMutex
	builder  *leaderboard.Builder
	board    leaderboard.Board
	feed     chan leaderboard.Board
	hub      *broadcast.Server[leaderboard.Board]
	closer   sync.Once
	page     *template.Template
	title    string
	refresh  int
	keyHash  string
	clock    func() time.Time
	registry *prometheus.Registry
	updates  prometheus.Counter
	l        *log.Logger
}

type Option func(s *Server)

func WithBuilder(b *leaderboard.Builder) Option {
	return func(s *Server) {
		s.builder = b
	}
}

func WithTitle(title string) Option {
	return func(s *Server) {
		s.title = title
	}
}

// WithRefresh sets the page refresh interval in seconds
func WithRefresh(seconds int) Option {
	return func(s *Server) {
		s.refresh = seconds
	}
}

// WithUpdateKeyHash requires updates to carry a key with the given sha256 hex hash
func WithUpdateKeyHash(hash string) Option {
	return func(s *Server) {
		s.keyHash = hash
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.l = l
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		builder: leaderboard.NewBuilder(),
		feed:    make(chan leaderboard.Board, 16),
		page: template.Must(
			template.New("index.html").ParseFS(templates, "templates/index.html")),
		title:   DefaultTitle,
		refresh: DefaultRefresh,
		clock:   time.Now,
		l:       log.Default().Named("dashboard"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.board = s.builder.Build(model.Snapshot{Timestamp: s.clock()})
	s.hub = broadcast.New("dashboard", s.feed)
	s.setupMetrics()
	return s
}

func (s *Server) setupMetrics() {
	s.registry = prometheus.NewRegistry()
	s.updates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lapc_dashboard_updates_total",
		Help: "Number of leaderboard updates received",
	})
	s.registry.MustRegister(
		s.updates,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lapc_dashboard_total_laps",
			Help: "Sum of display laps of all runners",
		}, func() float64 { return float64(s.Board().TotalLaps) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lapc_dashboard_runners",
			Help: "Number of runners on the leaderboard",
		}, func() float64 { return float64(len(s.Board().Rows)) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lapc_dashboard_stream_listeners",
			Help: "Number of connected stream clients",
		}, func() float64 { return float64(s.hub.Listeners()) }),
	)
}

// Update replaces the leaderboard state
func (s *Server) Update(snap model.Snapshot) leaderboard.Board {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.clock()
	}
	s.mutex.Lock()
	board := s.builder.Build(snap)
	s.board = board
	s.mutex.Unlock()
	s.updates.Inc()
	select {
	case s.feed <- board:
	default:
		s.l.Warn("stream feed full, update not streamed")
	}
	return board
}

func (s *Server) Board() leaderboard.Board {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.board
}

// Close ends all streams
func (s *Server) Close() {
	s.closer.Do(s.hub.Close)
}

// Handler serves the dashboard routes with a permissive CORS setup
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return newCORS().Handler(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.page.Execute(w, struct {
		Title   string
		Refresh int
		Board   leaderboard.Board
	}{s.title, s.refresh, s.Board()})
	if err != nil {
		s.l.Error("render page", log.ErrorField(err))
	}
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Board())
}

type status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// handleUpdate accepts a json object mapping runner ids to lap counts
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.keyHash != "" && !utils.KeyMatches(r.Header.Get(APIKeyHeader), s.keyHash) {
		writeJSON(w, http.StatusUnauthorized, status{Status: "error", Message: "invalid api key"})
		return
	}
	var counts map[string]int
	if err := json.NewDecoder(r.Body).Decode(&counts); err != nil || counts == nil {
		writeJSON(w, http.StatusBadRequest, status{Status: "error", Message: "No JSON received"})
		return
	}
	records := make(map[model.RunnerID]model.LapRecord, len(counts))
	for id, laps := range counts {
		if laps < 0 {
			writeJSON(w, http.StatusBadRequest, status{
				Status: "error", Message: fmt.Sprintf("negative lap count for %s", id),
			})
			return
		}
		records[model.RunnerID(id)] = model.LapRecord{DisplayLaps: laps, ActualLaps: laps}
	}
	s.Update(model.NewSnapshot(records, s.clock()))
	s.l.Debug("dashboard updated", log.Int("runners", len(records)))
	writeJSON(w, http.StatusOK, status{Status: "success"})
}

// handleStream sends the current board followed by every update as server sent events
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(b leaderboard.Board) error {
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: leaderboard\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := send(s.Board()); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case b, ok := <-ch:
			if !ok {
				return
			}
			if err := send(b); err != nil {
				s.l.Debug("stream client gone", log.ErrorField(err))
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("write response", log.ErrorField(err))
	}
}

func newCORS() *cors.Cors {
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
	})
}
