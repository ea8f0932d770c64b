package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/attachebot/attache/internal/identity"
)

// Contact is one known sender.
type Contact struct {
	ID            int64     `json:"id"`
	Phone         string    `json:"phone"`
	DisplayName   string    `json:"display_name"`
	ConfirmedName string    `json:"confirmed_name"`
	Verified      bool      `json:"verified"`
	TrustLevel    int       `json:"trust_level"`
	Summary       string    `json:"summary"`
	Platform      string    `json:"platform"`
	CreatedAt     time.Time `json:"created_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// BestName returns the confirmed name if verified, else the display name.
func (c *Contact) BestName() string {
	if c.ConfirmedName != "" {
		return c.ConfirmedName
	}
	return c.DisplayName
}

// HasValidName reports whether the contact has any usable name.
func (c *Contact) HasValidName() bool {
	return c.Verified || identity.IsValidName(c.BestName())
}

// UpsertContact creates the contact on first sight or refreshes last-seen
// (and backfills a missing display name) on subsequent messages. The
// created_at of an existing row is never touched.
func (s *Store) UpsertContact(phone, pushName, platform string) (*Contact, error) {
	name := identity.CleanName(pushName)
	now := nowUTC()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := scanContact(tx.QueryRow(`
		SELECT id, phone, display_name, confirmed_name, verified, trust_level, summary, platform, created_at, last_seen_at
		FROM contacts WHERE phone = ?`, phone))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.Exec(`
			INSERT INTO contacts (phone, display_name, platform, created_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?)`,
			phone, name, platform, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert contact: %w", err)
		}
		id, _ := res.LastInsertId()
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &Contact{
			ID:          id,
			Phone:       phone,
			DisplayName: name,
			Platform:    platform,
			CreatedAt:   now,
			LastSeenAt:  now,
		}, nil
	case err != nil:
		return nil, err
	}

	newName := existing.DisplayName
	if newName == "" && name != "" {
		newName = name
	}
	if _, err := tx.Exec(`
		UPDATE contacts SET last_seen_at = ?, display_name = ?, platform = ?
		WHERE id = ?`, now, newName, platform, existing.ID); err != nil {
		return nil, fmt.Errorf("refresh contact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	existing.LastSeenAt = now
	existing.DisplayName = newName
	existing.Platform = platform
	return existing, nil
}

// GetContact returns a contact by phone, or nil when unknown.
func (s *Store) GetContact(phone string) (*Contact, error) {
	c, err := scanContact(s.db.QueryRow(`
		SELECT id, phone, display_name, confirmed_name, verified, trust_level, summary, platform, created_at, last_seen_at
		FROM contacts WHERE phone = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ConfirmContactName records a model-confirmed name and marks the contact
// verified. Confirming an already verified contact with the same name is a
// no-op.
func (s *Store) ConfirmContactName(phone, name string) error {
	name = identity.CleanName(name)
	if !identity.IsValidName(name) {
		return fmt.Errorf("invalid confirmed name %q", name)
	}
	_, err := s.db.Exec(`
		UPDATE contacts SET confirmed_name = ?, verified = 1
		WHERE phone = ? AND NOT (verified = 1 AND confirmed_name = ?)`,
		name, phone, name)
	return err
}

// UpdateContactProfile stores the profiling pass output. Either field may be
// left unchanged by passing nil.
func (s *Store) UpdateContactProfile(phone string, summary *string, trustLevel *int) error {
	if summary == nil && trustLevel == nil {
		return nil
	}
	if summary != nil {
		if _, err := s.db.Exec(`UPDATE contacts SET summary = ? WHERE phone = ?`, *summary, phone); err != nil {
			return err
		}
	}
	if trustLevel != nil {
		lvl := *trustLevel
		if lvl < 0 {
			lvl = 0
		}
		if lvl > 10 {
			lvl = 10
		}
		if _, err := s.db.Exec(`UPDATE contacts SET trust_level = ? WHERE phone = ?`, lvl, phone); err != nil {
			return err
		}
	}
	return nil
}

// ListContacts returns contacts ordered by most recently seen.
func (s *Store) ListContacts(limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, phone, display_name, confirmed_name, verified, trust_level, summary, platform, created_at, last_seen_at
		FROM contacts ORDER BY last_seen_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(r rowScanner) (*Contact, error) {
	var c Contact
	err := r.Scan(&c.ID, &c.Phone, &c.DisplayName, &c.ConfirmedName, &c.Verified,
		&c.TrustLevel, &c.Summary, &c.Platform, &c.CreatedAt, &c.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
