package store

import (
	"fmt"
	"time"

	"github.com/allaspectsdev/scoutman/internal/provider"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// Attempt is one persisted provider call.
type Attempt struct {
	ID           int64  `json:"id"`
	Timestamp    string `json:"timestamp"`
	Op           string `json:"op"`
	Provider     string `json:"provider"`
	Success      bool   `json:"success"`
	Skipped      bool   `json:"skipped"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	LatencyMs    int64  `json:"latency_ms"`
	Results      int    `json:"results"`
	Digest       string `json:"digest"`
	Health       string `json:"health"`
}

// AttemptFromEvent converts an observer event into a storable row.
func AttemptFromEvent(ev provider.Event) *Attempt {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Attempt{
		Timestamp:    formatTime(ts),
		Op:           string(ev.Op),
		Provider:     ev.Provider,
		Success:      ev.Success,
		Skipped:      ev.Skipped,
		ErrorKind:    string(ev.ErrorKind),
		ErrorMessage: ev.Error,
		LatencyMs:    ev.Latency.Milliseconds(),
		Results:      ev.Results,
		Digest:       ev.Digest,
		Health:       ev.Health.String(),
	}
}

// Observe stores ev. Write failures are logged and dropped so the attempt
// log never affects a provider call.
func (s *Store) Observe(ev provider.Event) {
	if err := s.InsertAttempt(AttemptFromEvent(ev)); err != nil {
		s.logger.Warn().Err(err).Str("provider", ev.Provider).Msg("failed to record attempt")
	}
}

// InsertAttempt stores a provider attempt.
func (s *Store) InsertAttempt(a *Attempt) error {
	res, err := s.writer.Exec(`
		INSERT INTO attempts (
			timestamp, op, provider, success, skipped, error_kind,
			error_message, latency_ms, results, digest, health
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Timestamp, a.Op, a.Provider, boolInt(a.Success), boolInt(a.Skipped), a.ErrorKind,
		a.ErrorMessage, a.LatencyMs, a.Results, a.Digest, a.Health,
	)
	if err != nil {
		return fmt.Errorf("store: insert attempt: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// AttemptFilter narrows ListAttempts. Empty fields match everything.
type AttemptFilter struct {
	Op       string
	Provider string
	Limit    int
	Offset   int
}

// ListAttempts returns attempts newest first.
func (s *Store) ListAttempts(f AttemptFilter) ([]*Attempt, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := s.reader.Query(`
		SELECT id, timestamp, op, provider, success, skipped, error_kind,
		       error_message, latency_ms, results, digest, health
		FROM attempts
		WHERE (? = '' OR op = ?) AND (? = '' OR provider = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`,
		f.Op, f.Op, f.Provider, f.Provider, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list attempts: %w", err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		a := &Attempt{}
		var success, skipped int
		if err := rows.Scan(
			&a.ID, &a.Timestamp, &a.Op, &a.Provider, &success, &skipped, &a.ErrorKind,
			&a.ErrorMessage, &a.LatencyMs, &a.Results, &a.Digest, &a.Health,
		); err != nil {
			return nil, fmt.Errorf("store: scan attempt row: %w", err)
		}
		a.Success = success != 0
		a.Skipped = skipped != 0
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list attempts iteration: %w", err)
	}
	return out, nil
}

// ProviderStats aggregates attempts for one provider.
type ProviderStats struct {
	Op           string  `json:"op"`
	Provider     string  `json:"provider"`
	Attempts     int64   `json:"attempts"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	Skips        int64   `json:"skips"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// ProviderSummary aggregates attempts since the given time per op and provider.
func (s *Store) ProviderSummary(since time.Time) ([]ProviderStats, error) {
	rows, err := s.reader.Query(`
		SELECT op, provider,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success = 0 AND skipped = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(skipped), 0),
		       COALESCE(AVG(CASE WHEN skipped = 0 THEN latency_ms END), 0.0)
		FROM attempts
		WHERE timestamp >= ?
		GROUP BY op, provider
		ORDER BY op, provider`,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("store: provider summary: %w", err)
	}
	defer rows.Close()

	var out []ProviderStats
	for rows.Next() {
		var p ProviderStats
		if err := rows.Scan(&p.Op, &p.Provider, &p.Attempts, &p.Successes, &p.Failures, &p.Skips, &p.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("store: scan provider summary: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: provider summary iteration: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
