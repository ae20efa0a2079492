package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tnnl/coordinator/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TNNL_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TNNL_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := Open(ctx, url, 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func uniqueSubdomain(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	userID := uuid.NewString()
	if err := store.UpsertUser(ctx, userID, "dev@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := store.StoreSSHKey(ctx, userID, "ssh-ed25519 AAAA test"); err != nil {
		t.Fatal(err)
	}
	key, err := store.SSHKey(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if key != "ssh-ed25519 AAAA test" {
		t.Fatalf("unexpected key %q", key)
	}

	tun := domain.Tunnel{
		ID:        uuid.NewString(),
		Subdomain: uniqueSubdomain("pg"),
		UserID:    userID,
		IsCustom:  true,
		Port:      10000,
		Password:  "pw",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.CreateTunnel(ctx, tun); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.DeleteTunnel(context.Background(), tun.Subdomain) })

	dup := tun
	dup.ID = uuid.NewString()
	if err := store.CreateTunnel(ctx, dup); !errors.Is(err, domain.ErrSubdomainTaken) {
		t.Fatalf("expected ErrSubdomainTaken, got %v", err)
	}

	got, err := store.GetTunnel(ctx, tun.Subdomain)
	if err != nil {
		t.Fatal(err)
	}
	if got.Password != "pw" || !got.IsCustom || got.UserID != userID {
		t.Fatalf("unexpected tunnel %+v", got)
	}

	list, err := store.ListUserTunnels(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Subdomain != tun.Subdomain {
		t.Fatalf("unexpected user tunnels %+v", list)
	}

	if err := store.DeleteTunnel(ctx, tun.Subdomain); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteTunnel(ctx, tun.Subdomain); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if _, err := store.GetTunnel(ctx, tun.Subdomain); !errors.Is(err, domain.ErrTunnelNotFound) {
		t.Fatalf("expected ErrTunnelNotFound, got %v", err)
	}
}

func TestCreateTunnelUnknownUser(t *testing.T) {
	store := openTestStore(t)
	err := store.CreateTunnel(context.Background(), domain.Tunnel{
		ID:        uuid.NewString(),
		Subdomain: uniqueSubdomain("orphan"),
		UserID:    uuid.NewString(),
		Port:      10001,
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestPgCode(t *testing.T) {
	t.Parallel()

	if got := pgCode(errors.New("plain")); got != "" {
		t.Fatalf("expected empty code, got %q", got)
	}
	if got := pgCode(nil); got != "" {
		t.Fatalf("expected empty code for nil, got %q", got)
	}
}
