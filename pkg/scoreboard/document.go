package scoreboard

import (
	"bytes"
	"encoding/csv"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/thunderstriders/lapcounter/pkg/bib"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

const (
	// GapRows is the number of blank rows between the totals and the log section
	GapRows         = 5
	TimestampLayout = "2006-01-02 15:04:05"
)

var (
	TotalsHeader = []string{"Race Number", "Lap Count", "Actual Laps"}
	LogHeader    = []string{"Race Number", "Lap Count", "Timestamp"}
)

// Layout describes the fixed geometry of the artifact.
// The totals section holds a header plus one row per runner of the race.
type Layout struct {
	TotalsRows int
}

func NewLayout(numRunners int) Layout {
	return Layout{TotalsRows: numRunners}
}

// LogHeaderIndex is the 0-based row of the log header
func (l Layout) LogHeaderIndex() int {
	return 1 + l.TotalsRows + GapRows
}

type TotalsRow struct {
	Runner model.RunnerID
	model.LapRecord
}

type LogEntry struct {
	Runner      model.RunnerID
	DisplayLaps int
	Timestamp   time.Time
}

// Document is the parsed artifact: a totals table and a chronological log table.
type Document struct {
	totalsFound bool
	totalsLines []string // raw lines of the totals section, header included
	totals      []TotalsRow
	logFound    bool
	logIndex    int      // row index of the log header
	logLines    []string // raw lines after the log header
	log         []LogEntry
	skipped     int
	numLines    int
}

// ParseDocument parses the artifact. It never fails: rows which cannot be
// parsed are skipped and counted.
func ParseDocument(data []byte, loc *time.Location) *Document {
	lines := splitLines(data)
	rows := make([][]string, len(lines))
	for i, line := range lines {
		rows[i] = parseLine(line)
	}
	d := &Document{numLines: len(lines), logIndex: -1}

	if len(rows) > 0 && isTotalsHeader(rows[0]) {
		d.totalsFound = true
		d.totalsLines = append(d.totalsLines, lines[0])
		for i := 1; i < len(rows) && rows[i] != nil && !slices.Equal(rows[i], LogHeader); i++ {
			d.totalsLines = append(d.totalsLines, lines[i])
			if tr, ok := parseTotalsRow(rows[i]); ok {
				d.totals = append(d.totals, tr)
			} else {
				d.skipped++
			}
		}
	}

	for i := len(d.totalsLines); i < len(rows); i++ {
		if slices.Equal(rows[i], LogHeader) {
			d.logFound = true
			d.logIndex = i
			break
		}
	}
	if !d.logFound {
		return d
	}
	for i := d.logIndex + 1; i < len(rows); i++ {
		if rows[i] == nil {
			continue
		}
		d.logLines = append(d.logLines, lines[i])
		if le, ok := parseLogRow(rows[i], loc); ok {
			d.log = append(d.log, le)
		} else {
			d.skipped++
		}
	}
	return d
}

func (d *Document) HasTotals() bool { return d.totalsFound }

// Totals returns the parseable rows of the totals section
func (d *Document) Totals() []TotalsRow { return d.totals }

func (d *Document) HasLog() bool { return d.logFound }

// Log returns the parseable rows of the log section in file order
func (d *Document) Log() []LogEntry { return d.log }

// Skipped is the number of rows ignored because they could not be parsed
func (d *Document) Skipped() int { return d.skipped }

// Records derives the ledger state. The totals section is used if present and usable,
// otherwise the log is replayed.
func (d *Document) Records() map[model.RunnerID]model.LapRecord {
	if d.totalsFound && (len(d.totals) > 0 || len(d.log) == 0) {
		ret := make(map[model.RunnerID]model.LapRecord, len(d.totals))
		for _, t := range d.totals {
			ret[t.Runner] = t.LapRecord
		}
		return ret
	}
	return Replay(d.log)
}

// LastSeen returns the timestamp of the latest log entry per runner
func (d *Document) LastSeen() map[model.RunnerID]time.Time {
	ret := make(map[model.RunnerID]time.Time)
	for _, e := range d.log {
		if cur, ok := ret[e.Runner]; !ok || e.Timestamp.After(cur) {
			ret[e.Runner] = e.Timestamp
		}
	}
	return ret
}

// Replay derives lap records from log entries: actual laps is the number of entries,
// display laps the last logged value of the runner.
func Replay(entries []LogEntry) map[model.RunnerID]model.LapRecord {
	ret := make(map[model.RunnerID]model.LapRecord)
	for _, e := range entries {
		rec := ret[e.Runner]
		rec.ActualLaps++
		rec.DisplayLaps = e.DisplayLaps
		ret[e.Runner] = rec
	}
	return ret
}

type Mismatch struct {
	Runner   model.RunnerID
	Totals   model.LapRecord
	Replayed model.LapRecord
}

// Verify compares the totals section with the replayed log
func (d *Document) Verify() []Mismatch {
	replayed := Replay(d.log)
	totals := make(map[model.RunnerID]model.LapRecord, len(d.totals))
	for _, t := range d.totals {
		totals[t.Runner] = t.LapRecord
	}
	ret := []Mismatch{}
	check := func(id model.RunnerID) {
		if totals[id] != replayed[id] {
			ret = append(ret, Mismatch{Runner: id, Totals: totals[id], Replayed: replayed[id]})
		}
	}
	for _, t := range d.totals {
		check(t.Runner)
	}
	for id := range replayed {
		if _, ok := totals[id]; !ok {
			check(id)
		}
	}
	slices.SortFunc(ret, func(a, b Mismatch) int {
		switch {
		case a.Runner.Less(b.Runner):
			return -1
		case b.Runner.Less(a.Runner):
			return 1
		}
		return 0
	})
	return ret
}

func isTotalsHeader(row []string) bool {
	if len(row) < 2 {
		return false
	}
	first := strings.TrimSpace(row[0])
	return (first == "Race Number" || first == "RunnerId") &&
		strings.TrimSpace(row[1]) == "Lap Count" && !slices.Equal(row, LogHeader)
}

func parseTotalsRow(row []string) (TotalsRow, bool) {
	if len(row) < 2 {
		return TotalsRow{}, false
	}
	id := strings.TrimSpace(row[0])
	if id == "" || bib.Normalize(id) != id {
		return TotalsRow{}, false
	}
	display, err := strconv.Atoi(strings.TrimSpace(row[1]))
	if err != nil || display < 0 {
		return TotalsRow{}, false
	}
	actual := display
	if len(row) >= 3 {
		if v, err := strconv.Atoi(strings.TrimSpace(row[2])); err == nil && v >= 0 {
			actual = v
		}
	}
	return TotalsRow{
		Runner:    model.RunnerID(id),
		LapRecord: model.LapRecord{DisplayLaps: display, ActualLaps: actual},
	}, true
}

func parseLogRow(row []string, loc *time.Location) (LogEntry, bool) {
	if len(row) < 3 {
		return LogEntry{}, false
	}
	id := strings.TrimSpace(row[0])
	if id == "" || bib.Normalize(id) != id {
		return LogEntry{}, false
	}
	display, err := strconv.Atoi(strings.TrimSpace(row[1]))
	if err != nil {
		return LogEntry{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(row[2]), loc)
	if err != nil {
		return LogEntry{}, false
	}
	return LogEntry{Runner: model.RunnerID(id), DisplayLaps: display, Timestamp: ts}, true
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// parseLine returns nil for blank lines, including lines of empty fields like ",,"
func parseLine(line string) []string {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rec, err := r.Read()
	if err != nil {
		return []string{line}
	}
	if !slices.ContainsFunc(rec, func(f string) bool { return strings.TrimSpace(f) != "" }) {
		return nil
	}
	return rec
}

func formatRows(rows ...[]string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	//nolint:errcheck // writes into a buffer, errors are reported by Flush/Error
	w.WriteAll(rows)
	return buf.Bytes()
}

func formatLogRow(e model.DetectionEvent, loc *time.Location) []string {
	return []string{
		string(e.Runner),
		strconv.Itoa(e.DisplayLaps),
		e.Timestamp.In(loc).Format(TimestampLayout),
	}
}
