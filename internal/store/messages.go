package store

import (
	"time"
)

// MessageLog is one append-only chat log row.
type MessageLog struct {
	ID           int64     `json:"id"`
	ContactPhone string    `json:"contact_phone"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	MediaType    string    `json:"media_type"`
	Platform     string    `json:"platform"`
	CreatedAt    time.Time `json:"created_at"`
}

// AppendMessage appends one log row for a contact.
func (s *Store) AppendMessage(phone, role, content, mediaType, platform string) error {
	if mediaType == "" {
		mediaType = "text"
	}
	_, err := s.db.Exec(`
		INSERT INTO message_logs (contact_phone, role, content, media_type, platform, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		phone, role, content, mediaType, platform, nowUTC())
	return err
}

// RecentMessages returns the last limit rows for a contact in chronological
// order.
func (s *Store) RecentMessages(phone string, limit int) ([]MessageLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, contact_phone, role, content, media_type, platform, created_at
		FROM (
			SELECT id, contact_phone, role, content, media_type, platform, created_at
			FROM message_logs WHERE contact_phone = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`, phone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MessagesBetween returns a contact's rows inside [from, to] in order.
// Used by the report worker to load one session's slice.
func (s *Store) MessagesBetween(phone string, from, to time.Time) ([]MessageLog, error) {
	rows, err := s.db.Query(`
		SELECT id, contact_phone, role, content, media_type, platform, created_at
		FROM message_logs
		WHERE contact_phone = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC`, phone, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// SearchMessages finds a contact's rows containing the query substring.
func (s *Store) SearchMessages(phone, query string, limit int) ([]MessageLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, contact_phone, role, content, media_type, platform, created_at
		FROM message_logs
		WHERE contact_phone = ? AND content LIKE '%' || ? || '%'
		ORDER BY created_at DESC LIMIT ?`, phone, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// SearchAllMessages finds rows across every contact.
func (s *Store) SearchAllMessages(query string, limit int) ([]MessageLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, contact_phone, role, content, media_type, platform, created_at
		FROM message_logs
		WHERE content LIKE '%' || ? || '%'
		ORDER BY created_at DESC LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MessagesSince returns all rows created at or after t, across contacts.
func (s *Store) MessagesSince(t time.Time, limit int) ([]MessageLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`
		SELECT id, contact_phone, role, content, media_type, platform, created_at
		FROM message_logs WHERE created_at >= ?
		ORDER BY created_at ASC LIMIT ?`, t, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MessageStats returns total row count and per-role counts.
func (s *Store) MessageStats() (total, users, agents int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN role = 'agent' THEN 1 ELSE 0 END), 0)
		FROM message_logs`).Scan(&total, &users, &agents)
	return
}

func collectMessages(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]MessageLog, error) {
	var out []MessageLog
	for rows.Next() {
		var m MessageLog
		if err := rows.Scan(&m.ID, &m.ContactPhone, &m.Role, &m.Content, &m.MediaType, &m.Platform, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
