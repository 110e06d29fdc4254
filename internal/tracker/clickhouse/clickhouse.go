// Package clickhouse writes tracker calls into a ClickHouse table in batches.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"beacon/internal/tracker"
)

// Schema creates the events table.
const Schema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	event_id    String,
	kind        LowCardinality(String),
	name        String,
	visitor_id  String,
	session_id  String,
	page_url    String,
	timestamp   DateTime64(3, 'UTC'),
	event_data  String
) ENGINE = MergeTree
ORDER BY (timestamp, name)
`

// Config for the ClickHouse connection.
type Config struct {
	Addr          string
	Database      string
	Username      string
	Password      string
	BatchSize     int
	QueueSize     int
	FlushInterval time.Duration
}

// Row is one stored call.
type Row struct {
	EventID   string    `ch:"event_id"`
	Kind      string    `ch:"kind"`
	Name      string    `ch:"name"`
	VisitorID string    `ch:"visitor_id"`
	SessionID string    `ch:"session_id"`
	PageURL   string    `ch:"page_url"`
	Timestamp time.Time `ch:"timestamp"`
	EventData string    `ch:"event_data"`
}

// NewRow maps a command onto the table layout.
func NewRow(cmd tracker.Command) (Row, error) {
	data, err := json.Marshal(cmd.Params)
	if err != nil {
		return Row{}, fmt.Errorf("encode event data: %w", err)
	}
	return Row{
		EventID:   uuid.NewString(),
		Kind:      cmd.Kind,
		Name:      cmd.Target,
		VisitorID: cmd.VisitorID,
		SessionID: cmd.SessionID,
		PageURL:   cmd.PageURL,
		Timestamp: cmd.Timestamp,
		EventData: string(data),
	}, nil
}

// Sink is a tracker.Tracker that batches rows into ClickHouse.
type Sink struct {
	conn    driver.Conn
	batcher *tracker.Batcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewSink starts a sink over an open connection.
func NewSink(conn driver.Conn, cfg Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{conn: conn, logger: logger, now: time.Now}
	s.batcher = tracker.NewBatcher("clickhouse", s.insert, cfg.QueueSize, cfg.BatchSize, cfg.FlushInterval, logger)
	s.batcher.Start()
	return s
}

// Open dials ClickHouse and checks the connection.
func Open(ctx context.Context, cfg Config) (driver.Conn, error) {
	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: ch.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "beacon", Version: "1.0.0"}},
		},
		Compression: &ch.Compression{
			Method: ch.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return conn, nil
}

// Loader opens the connection, applies the schema and returns a started Sink.
func Loader(cfg Config, logger *slog.Logger) tracker.Loader {
	return func(ctx context.Context) (tracker.Tracker, error) {
		conn, err := Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := conn.Exec(ctx, Schema); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply clickhouse schema: %w", err)
		}
		return NewSink(conn, cfg, logger), nil
	}
}

func (s *Sink) Configure(_ context.Context, measurementID string, params tracker.Params) error {
	s.batcher.Enqueue(tracker.NewCommand(tracker.KindConfig, measurementID, params, s.now()))
	return nil
}

func (s *Sink) SendEvent(_ context.Context, name string, params tracker.Params) error {
	s.batcher.Enqueue(tracker.NewCommand(tracker.KindEvent, name, params, s.now()))
	return nil
}

// Close flushes queued rows and closes the connection.
func (s *Sink) Close(ctx context.Context) error {
	flushErr := s.batcher.Close(ctx)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close clickhouse: %w", err)
	}
	return flushErr
}

func (s *Sink) insert(ctx context.Context, batch []tracker.Command) error {
	if len(batch) == 0 {
		return nil
	}
	b, err := s.conn.PrepareBatch(ctx, `INSERT INTO analytics_events`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	for _, cmd := range batch {
		row, err := NewRow(cmd)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unencodable tracker command", "target", cmd.Target, "error", err)
			continue
		}
		if err := b.AppendStruct(&row); err != nil {
			s.logger.WarnContext(ctx, "failed to append row to batch", "event_id", row.EventID, "error", err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
