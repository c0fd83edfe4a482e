package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/publish"
)

const (
	csrfCookie = "csrftoken"
	csrfHeader = "X-CSRFToken"
)

var ErrNoCSRFToken = errors.New("no csrf token received")

type Option func(s *config)

type config struct {
	client *http.Client
	name   string
	apiKey string
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *config) {
		s.client = c
	}
}

func WithName(name string) Option {
	return func(s *config) {
		s.name = name
	}
}

// WithAPIKey sends key in the X-API-Key header
func WithAPIKey(key string) Option {
	return func(s *config) {
		s.apiKey = key
	}
}

func newConfig(name string, opts ...Option) config {
	c := config{name: name, client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// DashboardSink posts the display counts as json map to <base>/update
type DashboardSink struct {
	config
	endpoint string
}

func NewDashboardSink(base string, opts ...Option) *DashboardSink {
	return &DashboardSink{
		config:   newConfig("dashboard", opts...),
		endpoint: strings.TrimSuffix(base, "/") + "/update",
	}
}

func (s *DashboardSink) Name() string { return s.name }

func (s *DashboardSink) Publish(ctx context.Context, snap model.Snapshot) publish.Result {
	start := time.Now()
	return publish.Done(s.name, publish.OpSnapshot, start, s.post(ctx, snap.DisplayCounts()))
}

func (s *DashboardSink) PublishEvent(context.Context, model.DetectionEvent) publish.Result {
	return publish.Skip(s.name, publish.OpEvent)
}

func (s *DashboardSink) post(ctx context.Context, counts map[string]int) error {
	body, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	return checkResponse(resp)
}

// EventSink reports each accepted detection to a remote event api.
// A csrf token is fetched from <base>/csrf/ before each entry is posted to <base>/new_entry/.
type EventSink struct {
	config
	base string
}

func NewEventSink(base string, opts ...Option) (*EventSink, error) {
	c := newConfig("event-api", opts...)
	if c.client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client := *c.client
		client.Jar = jar
		c.client = &client
	}
	return &EventSink{config: c, base: strings.TrimSuffix(base, "/")}, nil
}

func (s *EventSink) Name() string { return s.name }

func (s *EventSink) Publish(context.Context, model.Snapshot) publish.Result {
	return publish.Skip(s.name, publish.OpSnapshot)
}

func (s *EventSink) PublishEvent(ctx context.Context, ev model.DetectionEvent) publish.Result {
	start := time.Now()
	return publish.Done(s.name, publish.OpEvent, start, s.send(ctx, ev))
}

func (s *EventSink) send(ctx context.Context, ev model.DetectionEvent) error {
	token, err := s.fetchToken(ctx)
	if err != nil {
		return err
	}
	runner := string(ev.Runner)
	if n := ev.Runner.Num(); n >= 0 {
		runner = strconv.Itoa(n)
	}
	form := url.Values{}
	form.Set("time", strconv.FormatInt(ev.Timestamp.UnixMilli(), 10))
	form.Set("runner", runner)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/new_entry/",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(csrfHeader, token)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	return checkResponse(resp)
}

func (s *EventSink) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/csrf/", http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	if err := checkResponse(resp); err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookie {
			return c.Value, nil
		}
	}
	// the token may have been set on an earlier response
	u, err := url.Parse(s.base + "/")
	if err != nil {
		return "", err
	}
	for _, c := range s.client.Jar.Cookies(u) {
		if c.Name == csrfCookie {
			return c.Value, nil
		}
	}
	return "", ErrNoCSRFToken
}

func checkResponse(resp *http.Response) error {
	defer resp.Body.Close()
	//nolint:errcheck // body is drained to reuse the connection
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
