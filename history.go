package promptenhance

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// History stores completed conversions in sqlite.
type History struct {
	mu sync.Mutex
	db *sql.DB

	filepath string
}

// Conversion is one enhanced prompt.
type Conversion struct {
	Id        int
	RequestID string
	Backend   string
	Model     string
	Original  string
	Enhanced  string
	Fallback  bool // Enhanced is the original prompt because enhancement failed
	CreatedAt time.Time
}

func NewHistory(ctx context.Context, fname string) (*History, error) {
	// Open the DB but flip on the cleaner timestamps from Go
	sqldb, err := sql.Open("sqlite", fname+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	// Keep a single connection so an in-memory DB isn't recreated per conn.
	sqldb.SetMaxOpenConns(1)
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("applying history schema: %w", err)
	}

	return &History{db: sqldb, filepath: fname}, nil
}

func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.db.Close()
}

// Record inserts conversions in a single transaction, filling in Id and a
// missing CreatedAt.
func (h *History) Record(ctx context.Context, convs ...*Conversion) error {
	if len(convs) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	txn, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	now := time.Now().UTC()
	for _, c := range convs {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		res, err := txn.ExecContext(ctx, `
			INSERT INTO conversions
			(request_id, backend, model, original, enhanced, fallback, created_at)
			VALUES (?,?,?,?,?,?,?)`,
			c.RequestID, c.Backend, c.Model, c.Original, c.Enhanced, c.Fallback, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting conversion: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		c.Id = int(id)
	}

	return txn.Commit()
}

// Recent returns up to limit conversions, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]*Conversion, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, request_id, backend, model, original, enhanced, fallback, created_at
		FROM conversions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*Conversion
	for rows.Next() {
		c := &Conversion{}
		err := rows.Scan(
			&c.Id,
			&c.RequestID,
			&c.Backend,
			&c.Model,
			&c.Original,
			&c.Enhanced,
			&c.Fallback,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning conversions: %w", err)
		}
		convs = append(convs, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversions: %w", err)
	}

	return convs, nil
}

// Count returns the number of stored conversions.
func (h *History) Count(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversions`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
