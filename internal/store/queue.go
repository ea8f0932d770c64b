package store

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// QueueItem is one pending batch of raw sender texts.
type QueueItem struct {
	ID          int64      `json:"id"`
	SenderPhone string     `json:"sender_phone"`
	SenderName  string     `json:"sender_name"`
	Platform    string     `json:"platform"`
	Messages    []string   `json:"messages"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	WorkerID    string     `json:"worker_id"`
	ErrorText   string     `json:"error_text"`
	VisibleAt   time.Time  `json:"visible_at"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// BatchText returns the messages joined the way the debounce buffer emitted
// them: newline-separated in arrival order.
func (q *QueueItem) BatchText() string {
	return strings.Join(q.Messages, "\n")
}

func contentHash(phone string, messages []string) string {
	h := sha1.New()
	h.Write([]byte(phone))
	for _, m := range messages {
		h.Write([]byte{0})
		h.Write([]byte(m))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Enqueue appends a pending batch. A batch identical in content to one
// already pending for the same sender is coalesced (no new row).
func (s *Store) Enqueue(phone, name, platform string, messages []string, priority int, visibleAt time.Time) (int64, error) {
	if len(messages) == 0 {
		return 0, fmt.Errorf("empty batch for %s", phone)
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return 0, err
	}
	hash := contentHash(phone, messages)
	now := nowUTC()
	if visibleAt.IsZero() {
		visibleAt = now
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRow(`
		SELECT id FROM message_queue
		WHERE content_hash = ? AND status = ?`, hash, StatusPending).Scan(&existing)
	if err == nil {
		return existing, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	res, err := tx.Exec(`
		INSERT INTO message_queue (sender_phone, sender_name, platform, messages, content_hash, priority, status, visible_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		phone, name, platform, string(raw), hash, priority, StatusPending, visibleAt.UTC(), now)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	id, _ := res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Lease claims the oldest visible pending row with the lowest priority
// number, in one transaction. A sender that already has a processing row is
// skipped so one contact is never processed by two workers at once. Returns
// nil when nothing is leasable.
func (s *Store) Lease(workerID string) (*QueueItem, error) {
	now := nowUTC()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	item, err := scanQueueItem(tx.QueryRow(`
		SELECT id, sender_phone, sender_name, platform, messages, priority, status, retry_count, worker_id, error_text, visible_at, created_at, processed_at
		FROM message_queue
		WHERE status = ? AND visible_at <= ?
		  AND sender_phone NOT IN (
			SELECT sender_phone FROM message_queue WHERE status = ?
		  )
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT 1`, StatusPending, now, StatusProcessing))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.Exec(`
		UPDATE message_queue SET status = ?, worker_id = ?, leased_at = ?
		WHERE id = ? AND status = ?`,
		StatusProcessing, workerID, now, item.ID, StatusPending)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		// Lost the race to another worker inside this poll cycle.
		return nil, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	item.Status = StatusProcessing
	item.WorkerID = workerID
	return item, nil
}

// Complete settles a leased row as done.
func (s *Store) Complete(id int64) error {
	_, err := s.db.Exec(`
		UPDATE message_queue SET status = ?, processed_at = ?, error_text = ''
		WHERE id = ?`, StatusCompleted, nowUTC(), id)
	return err
}

// Requeue returns a leased row to pending with a delayed visibility,
// incrementing its retry count. When the retry budget is spent the row is
// marked failed instead.
func (s *Store) Requeue(id int64, visibleAt time.Time, errText string, maxRetries int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var retries int
	if err := tx.QueryRow(`SELECT retry_count FROM message_queue WHERE id = ?`, id).Scan(&retries); err != nil {
		return err
	}
	retries++

	if retries >= maxRetries {
		if _, err := tx.Exec(`
			UPDATE message_queue SET status = ?, retry_count = ?, error_text = ?, processed_at = ?, worker_id = ''
			WHERE id = ?`, StatusFailed, retries, errText, nowUTC(), id); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(`
			UPDATE message_queue SET status = ?, retry_count = ?, error_text = ?, visible_at = ?, worker_id = ''
			WHERE id = ?`, StatusPending, retries, errText, visibleAt.UTC(), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Fail settles a leased row as terminally failed.
func (s *Store) Fail(id int64, errText string) error {
	_, err := s.db.Exec(`
		UPDATE message_queue SET status = ?, error_text = ?, processed_at = ?, worker_id = ''
		WHERE id = ?`, StatusFailed, errText, nowUTC(), id)
	return err
}

// RecoverStaleLeases resets processing rows whose lease is older than
// leaseTimeout back to pending. The worker pool runs it once at startup.
func (s *Store) RecoverStaleLeases(leaseTimeout time.Duration) (int64, error) {
	cutoff := nowUTC().Add(-leaseTimeout)
	res, err := s.db.Exec(`
		UPDATE message_queue SET status = ?, worker_id = '', leased_at = NULL
		WHERE status = ? AND leased_at IS NOT NULL AND leased_at < ?`,
		StatusPending, StatusProcessing, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeSettled deletes completed/failed rows older than ttl.
func (s *Store) PurgeSettled(ttl time.Duration) (int64, error) {
	cutoff := nowUTC().Add(-ttl)
	res, err := s.db.Exec(`
		DELETE FROM message_queue
		WHERE status IN (?, ?) AND processed_at IS NOT NULL AND processed_at < ?`,
		StatusCompleted, StatusFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueueDepth returns the number of pending rows.
func (s *Store) QueueDepth() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM message_queue WHERE status = ?`, StatusPending).Scan(&n)
	return n, err
}

// RecordQueueMetric samples current queue state for the controller and the
// analytics tool.
func (s *Store) RecordQueueMetric(depth, workerCount int, errorRate float64) error {
	_, err := s.db.Exec(`
		INSERT INTO queue_metrics (depth, worker_count, error_rate, sampled_at)
		VALUES (?, ?, ?, ?)`, depth, workerCount, errorRate, nowUTC())
	return err
}

// QueueMetric is one controller sample.
type QueueMetric struct {
	Depth       int       `json:"depth"`
	WorkerCount int       `json:"worker_count"`
	ErrorRate   float64   `json:"error_rate"`
	SampledAt   time.Time `json:"sampled_at"`
}

// RecentQueueMetrics returns the last limit samples, newest first.
func (s *Store) RecentQueueMetrics(limit int) ([]QueueMetric, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT depth, worker_count, error_rate, sampled_at
		FROM queue_metrics ORDER BY sampled_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueMetric
	for rows.Next() {
		var m QueueMetric
		if err := rows.Scan(&m.Depth, &m.WorkerCount, &m.ErrorRate, &m.SampledAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentErrorRate returns the fraction of settled rows in the window that
// failed or are carrying retries.
func (s *Store) RecentErrorRate(window time.Duration) (float64, error) {
	cutoff := nowUTC().Add(-window)
	var settled, errored int
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? OR retry_count > 0 THEN 1 ELSE 0 END), 0)
		FROM message_queue
		WHERE processed_at IS NOT NULL AND processed_at >= ?`,
		StatusFailed, cutoff).Scan(&settled, &errored)
	if err != nil {
		return 0, err
	}
	if settled == 0 {
		return 0, nil
	}
	return float64(errored) / float64(settled), nil
}

func scanQueueItem(r rowScanner) (*QueueItem, error) {
	var q QueueItem
	var raw string
	var processed sql.NullTime
	err := r.Scan(&q.ID, &q.SenderPhone, &q.SenderName, &q.Platform, &raw, &q.Priority,
		&q.Status, &q.RetryCount, &q.WorkerID, &q.ErrorText, &q.VisibleAt, &q.CreatedAt, &processed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &q.Messages); err != nil {
		return nil, fmt.Errorf("decode queue messages: %w", err)
	}
	q.ProcessedAt = nullTime(processed)
	return &q, nil
}
