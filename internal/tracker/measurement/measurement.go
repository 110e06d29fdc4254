// Package measurement forwards tracker calls to an HTTP collector speaking a
// Measurement Protocol style JSON body: one request per client, many events each.
package measurement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"beacon/internal/tracker"
)

// Config for the collector client.
type Config struct {
	Endpoint      string
	MeasurementID string
	APISecret     string
	BatchSize     int
	QueueSize     int
	FlushInterval time.Duration
	// MaxRetryElapsed bounds retries of one request.
	MaxRetryElapsed time.Duration
}

type event struct {
	Kind            string         `json:"kind"`
	Name            string         `json:"name"`
	Params          tracker.Params `json:"params,omitempty"`
	TimestampMicros int64          `json:"timestamp_micros"`
}

type payload struct {
	ClientID string  `json:"client_id"`
	Events   []event `json:"events"`
}

// Client is a tracker.Tracker. Calls are queued and shipped by a Batcher.
type Client struct {
	cfg     Config
	http    *http.Client
	batcher *tracker.Batcher
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a started client.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("measurement endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("parse measurement endpoint: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 10 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		now:    time.Now,
	}
	c.batcher = tracker.NewBatcher("measurement", c.flush, cfg.QueueSize, cfg.BatchSize, cfg.FlushInterval, logger)
	c.batcher.Start()
	return c, nil
}

// Loader adapts New to tracker.Loader.
func Loader(cfg Config, httpClient *http.Client, logger *slog.Logger) tracker.Loader {
	return func(context.Context) (tracker.Tracker, error) {
		return New(cfg, httpClient, logger)
	}
}

func (c *Client) Configure(_ context.Context, measurementID string, params tracker.Params) error {
	c.batcher.Enqueue(tracker.NewCommand(tracker.KindConfig, measurementID, params, c.now()))
	return nil
}

func (c *Client) SendEvent(_ context.Context, name string, params tracker.Params) error {
	c.batcher.Enqueue(tracker.NewCommand(tracker.KindEvent, name, params, c.now()))
	return nil
}

// Close flushes queued events.
func (c *Client) Close(ctx context.Context) error {
	return c.batcher.Close(ctx)
}

func (c *Client) flush(ctx context.Context, batch []tracker.Command) error {
	for _, p := range groupByClient(batch) {
		if err := c.post(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// groupByClient splits a batch per visitor, keeping first-seen order of visitors
// and call order within each.
func groupByClient(batch []tracker.Command) []payload {
	index := make(map[string]int)
	var out []payload
	for _, cmd := range batch {
		i, ok := index[cmd.VisitorID]
		if !ok {
			i = len(out)
			index[cmd.VisitorID] = i
			out = append(out, payload{ClientID: cmd.VisitorID})
		}
		out[i].Events = append(out[i].Events, event{
			Kind:            cmd.Kind,
			Name:            cmd.Target,
			Params:          cmd.Params,
			TimestampMicros: cmd.Timestamp.UnixMicro(),
		})
	}
	return out
}

func (c *Client) post(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode measurement payload: %w", err)
	}
	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("parse measurement endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("measurement_id", c.cfg.MeasurementID)
	if c.cfg.APISecret != "" {
		q.Set("api_secret", c.cfg.APISecret)
	}
	endpoint.RawQuery = q.Encode()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = c.cfg.MaxRetryElapsed

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("collector returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("collector rejected batch with %d", resp.StatusCode))
		}
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}
