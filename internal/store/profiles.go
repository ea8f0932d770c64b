package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// AIProfile configures the representative persona used in prompt
// construction.
type AIProfile struct {
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	Name           string   `json:"name,omitempty"`
	Role           string   `json:"role,omitempty"`
	Traits         []string `json:"traits,omitempty"`
	Instructions   string   `json:"instructions,omitempty"`
	Greeting       string   `json:"greeting,omitempty"`
	ResponseLength string   `json:"response_length,omitempty"` // "short" constrains replies
}

// UserProfile describes the owner the representative speaks for.
type UserProfile struct {
	Name     string `json:"name,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Details  string `json:"details,omitempty"`
}

// GetAIProfile returns the ai_profile singleton (zero value when unset).
func (s *Store) GetAIProfile() (*AIProfile, error) {
	var p AIProfile
	if err := s.getProfile("ai_profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutAIProfile idempotently upserts the ai_profile singleton.
func (s *Store) PutAIProfile(p *AIProfile) error {
	return s.putProfile("ai_profile", p)
}

// GetUserProfile returns the user_profile singleton (zero value when unset).
func (s *Store) GetUserProfile() (*UserProfile, error) {
	var p UserProfile
	if err := s.getProfile("user_profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutUserProfile idempotently upserts the user_profile singleton.
func (s *Store) PutUserProfile(p *UserProfile) error {
	return s.putProfile("user_profile", p)
}

func (s *Store) getProfile(table string, out any) error {
	var raw string
	err := s.db.QueryRow(`SELECT data FROM ` + table + ` WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		// Absent singleton reads as the zero profile.
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	return nil
}

func (s *Store) putProfile(table string, p any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO `+table+` (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), nowUTC())
	return err
}
