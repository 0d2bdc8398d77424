package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/hydration/internal/history"
)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{
		conn:  conn,
		table: table,
	}, nil
}

// EnsureTable creates the event table when it does not exist.
func (s *Sink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			type String,
			occurred_at DateTime64(6),
			process_id String,
			name String,
			from_state String,
			to_state String,
			computed_slot Nullable(UInt64),
			current_slot Nullable(UInt64),
			detail String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, process_id)`, s.table))
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, process_id, name, from_state, to_state, computed_slot, current_slot, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.ProcessID,
		e.Name,
		e.FromState,
		e.ToState,
		e.ComputedSlot,
		e.CurrentSlot,
		e.Detail,
	)

	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}

	return nil
}
