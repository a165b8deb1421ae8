package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Operation is one top-level generate or search call.
type Operation struct {
	ID           string `json:"id"`
	RequestID    string `json:"request_id,omitempty"`
	Timestamp    string `json:"timestamp"`
	Op           string `json:"op"`
	Mode         string `json:"mode,omitempty"`
	Digest       string `json:"digest"`
	Success      bool   `json:"success"`
	Provider     string `json:"provider,omitempty"`
	Attempts     int    `json:"attempts"`
	Results      int    `json:"results"`
	LatencyMs    int64  `json:"latency_ms"`
	ErrorMessage string `json:"error,omitempty"`
}

// InsertOperation stores an operation. The caller provides a unique ID.
func (s *Store) InsertOperation(o *Operation) error {
	if o.Timestamp == "" {
		o.Timestamp = formatTime(time.Now())
	}
	_, err := s.writer.Exec(`
		INSERT INTO operations (
			id, request_id, timestamp, op, mode, digest, success,
			provider, attempts, results, latency_ms, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.RequestID, o.Timestamp, o.Op, o.Mode, o.Digest, boolInt(o.Success),
		o.Provider, o.Attempts, o.Results, o.LatencyMs, o.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("store: insert operation: %w", err)
	}
	return nil
}

const operationColumns = `id, request_id, timestamp, op, mode, digest, success,
		       provider, attempts, results, latency_ms, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(sc scanner) (*Operation, error) {
	o := &Operation{}
	var success int
	if err := sc.Scan(
		&o.ID, &o.RequestID, &o.Timestamp, &o.Op, &o.Mode, &o.Digest, &success,
		&o.Provider, &o.Attempts, &o.Results, &o.LatencyMs, &o.ErrorMessage,
	); err != nil {
		return nil, err
	}
	o.Success = success != 0
	return o, nil
}

// GetOperation retrieves a single operation by ID.
func (s *Store) GetOperation(id string) (*Operation, error) {
	o, err := scanOperation(s.reader.QueryRow(
		`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get operation %s: %w", id, err)
	}
	return o, nil
}

// ListOperations returns a page of operations newest first.
func (s *Store) ListOperations(limit, offset int) ([]*Operation, error) {
	rows, err := s.reader.Query(
		`SELECT `+operationColumns+` FROM operations ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list operations: %w", err)
	}
	defer rows.Close()

	var out []*Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan operation row: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list operations iteration: %w", err)
	}
	return out, nil
}

// DayStats is one day of operation history.
type DayStats struct {
	Day          string  `json:"day"`
	Generations  int64   `json:"generations"`
	Searches     int64   `json:"searches"`
	Failures     int64   `json:"failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// History returns per-day operation counts since the given time, oldest first.
func (s *Store) History(since time.Time) ([]DayStats, error) {
	rows, err := s.reader.Query(`
		SELECT DATE(timestamp) AS day,
		       COALESCE(SUM(CASE WHEN op = 'generate' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN op = 'search' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(latency_ms), 0.0)
		FROM operations
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day ASC`,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []DayStats
	for rows.Next() {
		var d DayStats
		if err := rows.Scan(&d.Day, &d.Generations, &d.Searches, &d.Failures, &d.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("store: scan history row: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: history iteration: %w", err)
	}
	return out, nil
}
