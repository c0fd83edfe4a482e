package scoreboard

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

// Store persists the ledger as a single csv artifact with a totals section on top,
// GapRows blank rows and an append-only log section below.
type Store struct {
	mutex  sync.Mutex
	fs     afero.Fs
	path   string
	layout Layout
	loc    *time.Location
	l      *log.Logger
}

type Option func(s *Store)

func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

// WithLocation sets the time zone used for log timestamps
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		s.loc = loc
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.l = l
	}
}

func NewStore(path string, layout Layout, opts ...Option) *Store {
	ret := &Store{
		fs:     afero.NewOsFs(),
		path:   path,
		layout: layout,
		loc:    time.Local,
		l:      log.Default().Named("scoreboard"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Layout() Layout {
	return s.layout
}

// ReadDocument parses the current artifact. A missing file yields an empty document.
func (s *Store) ReadDocument() (*Document, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return ParseDocument(data, s.loc), nil
}

// Load returns the persisted lap records. Unparseable rows are skipped.
func (s *Store) Load() (map[model.RunnerID]model.LapRecord, error) {
	doc, err := s.ReadDocument()
	if err != nil {
		return nil, err
	}
	if doc.Skipped() > 0 {
		s.l.Warn("skipped unparseable rows",
			log.String("path", s.path), log.Int("rows", doc.Skipped()))
	}
	if !doc.HasTotals() && doc.HasLog() {
		s.l.Warn("totals section missing, replaying log", log.String("path", s.path))
	}
	return doc.Records(), nil
}

// LastSeen returns the latest logged detection time per runner
func (s *Store) LastSeen() (map[model.RunnerID]time.Time, error) {
	doc, err := s.ReadDocument()
	if err != nil {
		return nil, err
	}
	return doc.LastSeen(), nil
}

// PersistSnapshot rewrites the totals section and keeps the existing log section unchanged.
func (s *Store) PersistSnapshot(snap model.Snapshot) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	data, err := s.read()
	if err != nil {
		return err
	}
	doc := ParseDocument(data, s.loc)

	entries := slices.Clone(snap.Entries)
	slices.SortStableFunc(entries, func(a, b model.SnapshotEntry) int {
		switch {
		case a.Runner.Less(b.Runner):
			return -1
		case b.Runner.Less(a.Runner):
			return 1
		}
		return 0
	})
	rows := make([][]string, 0, len(entries)+1+GapRows)
	rows = append(rows, TotalsHeader)
	for _, e := range entries {
		rows = append(rows, []string{
			string(e.Runner),
			strconv.Itoa(e.DisplayLaps),
			strconv.Itoa(e.ActualLaps),
		})
	}
	// keep the log at its declared offset even if the snapshot is smaller than the layout
	for len(rows) < 1+s.layout.TotalsRows {
		rows = append(rows, []string{})
	}
	for range GapRows {
		rows = append(rows, []string{})
	}

	var buf bytes.Buffer
	buf.Write(formatRows(rows...))
	if doc.HasLog() {
		buf.Write(formatRows(LogHeader))
		for _, line := range doc.logLines {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return s.writeAtomic(buf.Bytes())
}

// AppendLogEntry appends one row to the log section without touching the totals.
// The log header is written at its expected offset if it is missing.
func (s *Store) AppendLogEntry(e model.DetectionEvent) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	data, err := s.read()
	if err != nil {
		return err
	}
	lines := splitLines(data)
	headerIdx := s.layout.LogHeaderIndex()
	row := formatRows(formatLogRow(e, s.loc))

	switch {
	case len(lines) > headerIdx && slices.Equal(parseLine(lines[headerIdx]), LogHeader):
		return s.appendRaw(data, row)

	case len(lines) <= headerIdx && !slices.ContainsFunc(lines, isLogHeaderLine):
		var buf bytes.Buffer
		buf.Write(formatRows(blankRows(headerIdx - len(lines))...))
		buf.Write(formatRows(LogHeader))
		buf.Write(row)
		return s.appendRaw(data, buf.Bytes())

	default:
		s.l.Warn("log header misplaced, rewriting log section",
			log.String("path", s.path), log.Int("expected row", headerIdx+1))
		return s.rewriteWithLog(data, row)
	}
}

func isLogHeaderLine(line string) bool {
	return slices.Equal(parseLine(line), LogHeader)
}

// rewriteWithLog keeps the totals section, places the log header at its expected
// offset and appends the new row after all existing log rows.
func (s *Store) rewriteWithLog(data, row []byte) error {
	doc := ParseDocument(data, s.loc)
	headerIdx := s.layout.LogHeaderIndex()
	head := doc.totalsLines
	if len(head) > 1+s.layout.TotalsRows {
		head = head[:1+s.layout.TotalsRows]
	}
	var buf bytes.Buffer
	for _, line := range head {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.Write(formatRows(blankRows(headerIdx - len(head))...))
	buf.Write(formatRows(LogHeader))
	for _, line := range doc.logLines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.Write(row)
	return s.writeAtomic(buf.Bytes())
}

func (s *Store) read() ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scoreboard %s: %w", s.path, err)
	}
	return data, nil
}

func (s *Store) appendRaw(existing, add []byte) error {
	f, err := s.fs.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open scoreboard %s: %w", s.path, err)
	}
	defer f.Close()
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		add = append([]byte{'\n'}, add...)
	}
	if _, err := f.Write(add); err != nil {
		return fmt.Errorf("append scoreboard %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write scoreboard %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace scoreboard %s: %w", s.path, err)
	}
	return nil
}

func blankRows(n int) [][]string {
	ret := make([][]string, 0, max(n, 0))
	for range n {
		ret = append(ret, []string{})
	}
	return ret
}
