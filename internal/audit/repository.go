// Package audit records every change submitted to a controller in the
// command_log table and pages through that history.
//
// The log is an audit trail only; it is never replayed into device state.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command statuses.
const (
	StatusAccepted = "accepted" // flushed to the controller by this call
	StatusQueued   = "queued"   // merged into a flush already in progress
	StatusFailed   = "failed"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// createdAtLayout sorts lexically in time order.
const createdAtLayout = "2006-01-02T15:04:05.000000Z"

// Entry is one row of the command log.
type Entry struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	Endpoint  string         `json:"endpoint"`
	Source    string         `json:"source"`
	Change    map[string]any `json:"change"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceID string // optional
	Status   string // optional: accepted, queued, failed
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the command log operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the command log in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a command log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	change := entry.Change
	if change == nil {
		change = map[string]any{}
	}
	changeJSON, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshalling command change: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, device_id, endpoint, source, change, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceID, entry.Endpoint, entry.Source,
		string(changeJSON), entry.Status, nullableString(entry.Error),
		entry.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_log %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, device_id, endpoint, source, change, status, error, created_at
		 FROM command_log %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var changeJSON, createdAt string
	var errText sql.NullString

	if err := rows.Scan(&e.ID, &e.DeviceID, &e.Endpoint, &e.Source,
		&changeJSON, &e.Status, &errText, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning command log entry: %w", err)
	}

	e.Error = errText.String
	if changeJSON != "" {
		if err := json.Unmarshal([]byte(changeJSON), &e.Change); err != nil {
			return Entry{}, fmt.Errorf("decoding change of %s: %w", e.ID, err)
		}
	}

	t, err := time.Parse(createdAtLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing command log timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
