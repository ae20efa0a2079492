package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/tnnl/coordinator/internal/domain"
)

// UpsertUser records userID, refreshing the email when it changed.
func (s *Store) UpsertUser(ctx context.Context, userID, email string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, email, created_at, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET email = excluded.email, updated_at = excluded.updated_at`,
		userID, strings.TrimSpace(email), now, now)
	return err
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, created_at FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrUserNotFound
	}
	return u, err
}

// StoreSSHKey sets the user's registered public key, replacing any
// previous one.
func (s *Store) StoreSSHKey(ctx context.Context, userID, key string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_profiles(user_id, ssh_public_key, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET ssh_public_key = excluded.ssh_public_key, updated_at = excluded.updated_at`,
		userID, nullableString(key), time.Now().UTC())
	if isConstraintErr(err, sqliteForeignKeyCode) {
		return ErrUserNotFound
	}
	return err
}

func (s *Store) SSHKey(ctx context.Context, userID string) (string, error) {
	var key sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT ssh_public_key FROM user_profiles WHERE user_id = ?`, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return key.String, nil
}
