// Package postgres implements the coordinator's persistence gateway on
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tnnl/coordinator/internal/domain"
)

// ErrUserNotFound is returned when a user id has never been upserted.
var ErrUserNotFound = errors.New("user not found")

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// db is the subset of *pgxpool.Pool the store uses.
type db interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type Store struct {
	pool  *pgxpool.Pool
	db    db
	close func()
}

// Open connects to the database at url, verifies the connection, and runs
// migrations.
func Open(ctx context.Context, url string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool, db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS user_profiles (
	user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	ssh_public_key TEXT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tunnels (
	id UUID PRIMARY KEY,
	subdomain TEXT NOT NULL UNIQUE,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	is_custom BOOLEAN NOT NULL,
	port INTEGER NOT NULL,
	password TEXT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tunnels_user_id ON tunnels(user_id);
`
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) UpsertUser(ctx context.Context, userID, email string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO users(id, email, created_at, updated_at)
VALUES($1, $2, $3, $3)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, updated_at = EXCLUDED.updated_at`,
		userID, strings.TrimSpace(email), time.Now().UTC())
	return err
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx, `SELECT id, email, created_at FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrUserNotFound
	}
	return u, err
}

// StoreSSHKey sets the user's registered public key, replacing any
// previous one.
func (s *Store) StoreSSHKey(ctx context.Context, userID, key string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO user_profiles(user_id, ssh_public_key, updated_at)
VALUES($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET ssh_public_key = EXCLUDED.ssh_public_key, updated_at = EXCLUDED.updated_at`,
		userID, key, time.Now().UTC())
	if pgCode(err) == pgForeignKeyViolation {
		return ErrUserNotFound
	}
	return err
}

func (s *Store) SSHKey(ctx context.Context, userID string) (string, error) {
	var key *string
	err := s.db.QueryRow(ctx, `SELECT ssh_public_key FROM user_profiles WHERE user_id = $1`, userID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && key == nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return *key, nil
}

const tunnelColumns = `id, subdomain, user_id, is_custom, port, password, created_at`

func (s *Store) CreateTunnel(ctx context.Context, t domain.Tunnel) error {
	var password *string
	if t.HasPassword() {
		password = &t.Password
	}
	_, err := s.db.Exec(ctx, `INSERT INTO tunnels(`+tunnelColumns+`) VALUES($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Subdomain, t.UserID, t.IsCustom, t.Port, password, t.CreatedAt.UTC())
	switch pgCode(err) {
	case "":
		if err != nil {
			return fmt.Errorf("create tunnel %s: %w", t.Subdomain, err)
		}
		return nil
	case pgUniqueViolation:
		return &domain.TunnelError{Subdomain: t.Subdomain, Op: "create", Err: domain.ErrSubdomainTaken}
	case pgForeignKeyViolation:
		return &domain.TunnelError{Subdomain: t.Subdomain, Op: "create", Err: ErrUserNotFound}
	}
	return fmt.Errorf("create tunnel %s: %w", t.Subdomain, err)
}

// DeleteTunnel removes the record for subdomain. Deleting an absent record
// is not an error.
func (s *Store) DeleteTunnel(ctx context.Context, subdomain string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM tunnels WHERE subdomain = $1`, subdomain)
	return err
}

func (s *Store) GetTunnel(ctx context.Context, subdomain string) (domain.Tunnel, error) {
	t, err := scanTunnel(s.db.QueryRow(ctx, `SELECT `+tunnelColumns+` FROM tunnels WHERE subdomain = $1`, subdomain))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tunnel{}, domain.ErrTunnelNotFound
	}
	return t, err
}

func (s *Store) ListUserTunnels(ctx context.Context, userID string) ([]domain.Tunnel, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tunnelColumns+` FROM tunnels WHERE user_id = $1 ORDER BY created_at, port`, userID)
	if err != nil {
		return nil, err
	}
	return collectTunnels(rows)
}

func (s *Store) ListTunnels(ctx context.Context) ([]domain.Tunnel, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tunnelColumns+` FROM tunnels ORDER BY created_at, port`)
	if err != nil {
		return nil, err
	}
	return collectTunnels(rows)
}

func scanTunnel(row pgx.Row) (domain.Tunnel, error) {
	var (
		t        domain.Tunnel
		password *string
	)
	if err := row.Scan(&t.ID, &t.Subdomain, &t.UserID, &t.IsCustom, &t.Port, &password, &t.CreatedAt); err != nil {
		return domain.Tunnel{}, err
	}
	if password != nil {
		t.Password = *password
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func collectTunnels(rows pgx.Rows) ([]domain.Tunnel, error) {
	defer rows.Close()
	out := make([]domain.Tunnel, 0)
	for rows.Next() {
		t, err := scanTunnel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
