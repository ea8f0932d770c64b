package store

import (
	"database/sql"
	"errors"
	"time"
)

// Conversation is one session window on a contact. At most one row per
// contact is active at any time; active → completed is terminal.
type Conversation struct {
	ID           int64      `json:"id"`
	ContactPhone string     `json:"contact_phone"`
	Status       string     `json:"status"`
	Urgency      *int       `json:"urgency,omitempty"`
	Summary      string     `json:"summary"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// ActiveConversation returns the contact's active session, or nil.
func (s *Store) ActiveConversation(phone string) (*Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(`
		SELECT id, contact_phone, status, urgency, summary, started_at, ended_at
		FROM conversations WHERE contact_phone = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`, phone, ConversationActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// EnsureActiveConversation opens a session if none is active and returns the
// current one.
func (s *Store) EnsureActiveConversation(phone string) (*Conversation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := scanConversation(tx.QueryRow(`
		SELECT id, contact_phone, status, urgency, summary, started_at, ended_at
		FROM conversations WHERE contact_phone = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`, phone, ConversationActive))
	if err == nil {
		return c, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := nowUTC()
	res, err := tx.Exec(`
		INSERT INTO conversations (contact_phone, status, started_at)
		VALUES (?, ?, ?)`, phone, ConversationActive, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Conversation{
		ID:           id,
		ContactPhone: phone,
		Status:       ConversationActive,
		StartedAt:    now,
	}, nil
}

// CompleteConversation terminates the session. The transition is terminal:
// a completed row never goes back to active.
func (s *Store) CompleteConversation(id int64) error {
	_, err := s.db.Exec(`
		UPDATE conversations SET status = ?, ended_at = ?
		WHERE id = ? AND status = ?`,
		ConversationCompleted, nowUTC(), id, ConversationActive)
	return err
}

// AnnotateConversation records the analysis output on a session row.
func (s *Store) AnnotateConversation(id int64, urgency int, summary string) error {
	_, err := s.db.Exec(`
		UPDATE conversations SET urgency = ?, summary = ? WHERE id = ?`,
		urgency, summary, id)
	return err
}

// GetConversation returns a session by id, or nil.
func (s *Store) GetConversation(id int64) (*Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(`
		SELECT id, contact_phone, status, urgency, summary, started_at, ended_at
		FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func scanConversation(r rowScanner) (*Conversation, error) {
	var c Conversation
	var urgency sql.NullInt64
	var ended sql.NullTime
	if err := r.Scan(&c.ID, &c.ContactPhone, &c.Status, &urgency, &c.Summary, &c.StartedAt, &ended); err != nil {
		return nil, err
	}
	if urgency.Valid {
		v := int(urgency.Int64)
		c.Urgency = &v
	}
	c.EndedAt = nullTime(ended)
	return &c, nil
}
