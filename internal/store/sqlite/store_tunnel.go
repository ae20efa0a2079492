package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tnnl/coordinator/internal/domain"
)

const sqliteForeignKeyCode = sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY

const tunnelColumns = `id, subdomain, user_id, is_custom, port, password, created_at`

const getTunnelQuery = `SELECT ` + tunnelColumns + ` FROM tunnels WHERE subdomain = ?`

const userTunnelsQuery = `SELECT ` + tunnelColumns + ` FROM tunnels WHERE user_id = ? ORDER BY created_at, port`

// CreateTunnel inserts the record for a freshly allocated tunnel. The
// owning user must already exist.
func (s *Store) CreateTunnel(ctx context.Context, t domain.Tunnel) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tunnels(`+tunnelColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Subdomain, t.UserID, boolToInt(t.IsCustom), t.Port, sql.NullString{String: t.Password, Valid: t.HasPassword()}, t.CreatedAt.UTC())
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return &domain.TunnelError{Subdomain: t.Subdomain, Op: "create", Err: domain.ErrSubdomainTaken}
	case isConstraintErr(err, sqliteForeignKeyCode):
		return &domain.TunnelError{Subdomain: t.Subdomain, Op: "create", Err: ErrUserNotFound}
	}
	return fmt.Errorf("create tunnel %s: %w", t.Subdomain, err)
}

// DeleteTunnel removes the record for subdomain. Deleting an absent record
// is not an error.
func (s *Store) DeleteTunnel(ctx context.Context, subdomain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tunnels WHERE subdomain = ?`, subdomain)
	return err
}

func (s *Store) GetTunnel(ctx context.Context, subdomain string) (domain.Tunnel, error) {
	t, err := scanTunnel(s.getTunnelStmt.QueryRowContext(ctx, subdomain))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tunnel{}, domain.ErrTunnelNotFound
	}
	return t, err
}

func (s *Store) ListUserTunnels(ctx context.Context, userID string) ([]domain.Tunnel, error) {
	rows, err := s.userTunnelsStmt.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	return collectTunnels(rows)
}

// ListTunnels returns every persisted tunnel record.
func (s *Store) ListTunnels(ctx context.Context) ([]domain.Tunnel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tunnelColumns+` FROM tunnels ORDER BY created_at, port`)
	if err != nil {
		return nil, err
	}
	return collectTunnels(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTunnel(row rowScanner) (domain.Tunnel, error) {
	var (
		t        domain.Tunnel
		isCustom int
		password sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Subdomain, &t.UserID, &isCustom, &t.Port, &password, &t.CreatedAt); err != nil {
		return domain.Tunnel{}, err
	}
	t.IsCustom = isCustom == 1
	t.Password = password.String
	return t, nil
}

func collectTunnels(rows *sql.Rows) ([]domain.Tunnel, error) {
	defer func() { _ = rows.Close() }()
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
