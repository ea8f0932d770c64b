package store

import (
	"database/sql"
	"errors"
	"time"
)

// AcquireSessionLock claims the named singleton lock for holderID. It
// succeeds when the row is absent, expired, or already held by the same
// holder. Returns false when another live process holds it.
func (s *Store) AcquireSessionLock(name, holderID string, ttl time.Duration) (bool, error) {
	now := nowUTC()
	expires := now.Add(ttl)

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var holder string
	var expiresAt time.Time
	err = tx.QueryRow(`
		SELECT holder_id, expires_at FROM session_lock WHERE session_name = ?`, name).
		Scan(&holder, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.Exec(`
			INSERT INTO session_lock (session_name, holder_id, expires_at)
			VALUES (?, ?, ?)`, name, holderID, expires); err != nil {
			return false, err
		}
	case err != nil:
		return false, err
	case holder != holderID && expiresAt.After(now):
		return false, tx.Commit()
	default:
		if _, err := tx.Exec(`
			UPDATE session_lock SET holder_id = ?, expires_at = ? WHERE session_name = ?`,
			holderID, expires, name); err != nil {
			return false, err
		}
	}
	return true, tx.Commit()
}

// HeartbeatSessionLock extends the holder's lease. Returns false when the
// lock is no longer held by holderID.
func (s *Store) HeartbeatSessionLock(name, holderID string, ttl time.Duration) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE session_lock SET expires_at = ?
		WHERE session_name = ? AND holder_id = ?`,
		nowUTC().Add(ttl), name, holderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseSessionLock drops the lock if held by holderID.
func (s *Store) ReleaseSessionLock(name, holderID string) error {
	_, err := s.db.Exec(`
		DELETE FROM session_lock WHERE session_name = ? AND holder_id = ?`,
		name, holderID)
	return err
}
