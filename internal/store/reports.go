package store

import (
	"database/sql"
	"errors"
	"time"
)

// ReportItem is one pending session-summary task.
type ReportItem struct {
	ID                int64      `json:"id"`
	ContactPhone      string     `json:"contact_phone"`
	ContactName       string     `json:"contact_name"`
	ConversationID    int64      `json:"conversation_id"`
	Status            string     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	ErrorText         string     `json:"error_text"`
	LastAttemptAt     *time.Time `json:"last_attempt_at,omitempty"`
	LastUserMessageAt *time.Time `json:"last_user_message_at,omitempty"`
	VisibleAt         time.Time  `json:"visible_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

// EnqueueReport appends a pending report task for a completed session.
// Enqueueing twice for the same conversation is a no-op.
func (s *Store) EnqueueReport(phone, name string, conversationID int64, lastUserMessageAt *time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRow(`
		SELECT id FROM report_queue WHERE conversation_id = ?`, conversationID).Scan(&existing)
	if err == nil {
		return existing, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	now := nowUTC()
	res, err := tx.Exec(`
		INSERT INTO report_queue (contact_phone, contact_name, conversation_id, status, last_user_message_at, visible_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		phone, name, conversationID, StatusPending, lastUserMessageAt, now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// LeaseReport claims the oldest visible pending report, or returns nil.
func (s *Store) LeaseReport() (*ReportItem, error) {
	now := nowUTC()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	item, err := scanReport(tx.QueryRow(`
		SELECT id, contact_phone, contact_name, conversation_id, status, retry_count, error_text, last_attempt_at, last_user_message_at, visible_at, created_at
		FROM report_queue
		WHERE status = ? AND visible_at <= ?
		ORDER BY created_at ASC, id ASC LIMIT 1`, StatusPending, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`
		UPDATE report_queue SET status = ?, last_attempt_at = ? WHERE id = ?`,
		StatusProcessing, now, item.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	item.Status = StatusProcessing
	return item, nil
}

// CompleteReport settles a report as delivered.
func (s *Store) CompleteReport(id int64) error {
	_, err := s.db.Exec(`
		UPDATE report_queue SET status = ?, error_text = '' WHERE id = ?`,
		StatusCompleted, id)
	return err
}

// RequeueReport returns a leased report to pending with delayed visibility,
// or fails it when the retry budget is spent.
func (s *Store) RequeueReport(id int64, visibleAt time.Time, errText string, maxRetries int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var retries int
	if err := tx.QueryRow(`SELECT retry_count FROM report_queue WHERE id = ?`, id).Scan(&retries); err != nil {
		return err
	}
	retries++

	if retries >= maxRetries {
		if _, err := tx.Exec(`
			UPDATE report_queue SET status = ?, retry_count = ?, error_text = ? WHERE id = ?`,
			StatusFailed, retries, errText, id); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(`
			UPDATE report_queue SET status = ?, retry_count = ?, error_text = ?, visible_at = ? WHERE id = ?`,
			StatusPending, retries, errText, visibleAt.UTC(), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PendingReports returns the number of undelivered reports.
func (s *Store) PendingReports() (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM report_queue WHERE status IN (?, ?)`,
		StatusPending, StatusProcessing).Scan(&n)
	return n, err
}

func scanReport(r rowScanner) (*ReportItem, error) {
	var it ReportItem
	var attempt, lastUser sql.NullTime
	err := r.Scan(&it.ID, &it.ContactPhone, &it.ContactName, &it.ConversationID, &it.Status,
		&it.RetryCount, &it.ErrorText, &attempt, &lastUser, &it.VisibleAt, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	it.LastAttemptAt = nullTime(attempt)
	it.LastUserMessageAt = nullTime(lastUser)
	return &it, nil
}
