package store

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// credentialEnvelope is the textual encoding for binary credential blobs.
// Buffers round-trip losslessly through the base64 field.
type credentialEnvelope struct {
	Version string `json:"version"`
	B64     string `json:"b64"`
}

const credWriteRetries = 3

// WriteCredential upserts a credential blob under id (a "collection:id"
// string). Transient write failures are retried with a short linear backoff.
func (s *Store) WriteCredential(id string, blob []byte) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("empty credential id")
	}
	env := credentialEnvelope{
		Version: "v1",
		B64:     base64.StdEncoding.EncodeToString(blob),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < credWriteRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
		_, lastErr = s.db.Exec(`
			INSERT INTO auth_credentials (cred_id, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(cred_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			id, string(data), nowUTC())
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("write credential %s: %w", id, lastErr)
}

// ReadCredential returns the blob stored under id, or nil when absent.
func (s *Store) ReadCredential(id string) ([]byte, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM auth_credentials WHERE cred_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var env credentialEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", id, err)
	}
	if env.Version != "v1" {
		return nil, fmt.Errorf("unsupported credential version %q", env.Version)
	}
	return base64.StdEncoding.DecodeString(env.B64)
}

// RemoveCredential deletes one credential.
func (s *Store) RemoveCredential(id string) error {
	_, err := s.db.Exec(`DELETE FROM auth_credentials WHERE cred_id = ?`, id)
	return err
}

// WipeCredentials deletes every credential in a collection ("collection:"
// prefix), or everything when collection is empty. Used when the transport
// reports a fatal session state.
func (s *Store) WipeCredentials(collection string) error {
	if collection == "" {
		_, err := s.db.Exec(`DELETE FROM auth_credentials`)
		return err
	}
	_, err := s.db.Exec(`DELETE FROM auth_credentials WHERE cred_id LIKE ? || ':%'`, collection)
	return err
}
