package sheetsink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/sheets/v4"

	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
)

type call struct {
	Method string
	Path   string
	Query  string
	Body   sheets.ValueRange
}

type fakeSheets struct {
	mutex sync.Mutex
	calls []call
	fail  bool
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var body sheets.ValueRange
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.calls = append(f.calls, call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	if f.fail {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("{}"))
}

func newTestSink(t *testing.T, url string, layout scoreboard.Layout, opts ...Option) *Sink {
	t.Helper()
	s, err := New(context.Background(), "sid", layout, append([]Option{WithEndpoint(url + "/")}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestSink_Publish(t *testing.T) {
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newTestSink(t, srv.URL, scoreboard.NewLayout(2))
	r := s.Publish(context.Background(), model.Snapshot{Entries: []model.SnapshotEntry{
		{Runner: "001", LapRecord: model.LapRecord{DisplayLaps: 3, ActualLaps: 2}},
		{Runner: "002"},
	}})
	require.NoError(t, r.Err)
	require.Len(t, fake.calls, 1)
	c := fake.calls[0]
	assert.Equal(t, http.MethodPut, c.Method)
	assert.Equal(t, "/v4/spreadsheets/sid/values/A1:C3", c.Path)
	assert.Contains(t, c.Query, "valueInputOption=RAW")
	assert.Equal(t, [][]any{
		{"Race Number", "Lap Count", "Actual Laps"},
		{"001", float64(3), float64(2)},
		{"002", float64(0), float64(0)},
	}, c.Body.Values)
}

func TestSink_PublishEvent(t *testing.T) {
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newTestSink(t, srv.URL, scoreboard.NewLayout(2), WithSheet("Laps"), WithLocation(time.UTC))
	ts := time.Date(2025, 4, 26, 14, 30, 5, 0, time.UTC)
	for i := range 2 {
		r := s.PublishEvent(context.Background(), model.DetectionEvent{
			Runner: "002", DisplayLaps: i + 1, Timestamp: ts,
		})
		require.NoError(t, r.Err)
	}

	require.Len(t, fake.calls, 3)
	assert.Equal(t, http.MethodPut, fake.calls[0].Method)
	assert.Equal(t, "/v4/spreadsheets/sid/values/Laps!A9:C9", fake.calls[0].Path)
	assert.Equal(t, [][]any{{"Race Number", "Lap Count", "Timestamp"}}, fake.calls[0].Body.Values)

	for _, c := range fake.calls[1:] {
		assert.Equal(t, http.MethodPost, c.Method)
		assert.Equal(t, "/v4/spreadsheets/sid/values/Laps!A9:C:append", c.Path)
		assert.Contains(t, c.Query, "insertDataOption=INSERT_ROWS")
	}
	assert.Equal(t, [][]any{{"002", float64(2), "2025-04-26 14:30:05"}}, fake.calls[2].Body.Values)
}

func TestSink_ErrorIsReported(t *testing.T) {
	fake := &fakeSheets{fail: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newTestSink(t, srv.URL, scoreboard.NewLayout(1))
	r := s.PublishEvent(context.Background(), model.DetectionEvent{Runner: "001"})
	assert.ErrorContains(t, r.Err, "429")
	assert.ErrorContains(t, r.Err, "write log header")

	// header is retried once the api recovers
	fake.mutex.Lock()
	fake.fail = false
	fake.mutex.Unlock()
	r = s.PublishEvent(context.Background(), model.DetectionEvent{Runner: "001"})
	require.NoError(t, r.Err)
	assert.Len(t, fake.calls, 3)
}
