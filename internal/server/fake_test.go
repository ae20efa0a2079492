package server

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/tnnl/coordinator/internal/auth"
	"github.com/tnnl/coordinator/internal/domain"
)

type fakeGateway struct {
	mu        sync.Mutex
	users     map[string]string
	tunnels   map[string]domain.Tunnel
	keys      map[string]string
	createErr error
	upsertErr error
	keyErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		users:   map[string]string{},
		tunnels: map[string]domain.Tunnel{},
		keys:    map[string]string{},
	}
}

func (g *fakeGateway) UpsertUser(_ context.Context, userID, email string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.upsertErr != nil {
		return g.upsertErr
	}
	g.users[userID] = email
	return nil
}

func (g *fakeGateway) CreateTunnel(_ context.Context, t domain.Tunnel) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return g.createErr
	}
	if _, ok := g.tunnels[t.Subdomain]; ok {
		return &domain.TunnelError{Subdomain: t.Subdomain, Op: "create", Err: domain.ErrSubdomainTaken}
	}
	g.tunnels[t.Subdomain] = t
	return nil
}

func (g *fakeGateway) DeleteTunnel(_ context.Context, subdomain string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tunnels, subdomain)
	return nil
}

func (g *fakeGateway) GetTunnel(_ context.Context, subdomain string) (domain.Tunnel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tunnels[subdomain]
	if !ok {
		return domain.Tunnel{}, domain.ErrTunnelNotFound
	}
	return t, nil
}

func (g *fakeGateway) ListUserTunnels(_ context.Context, userID string) ([]domain.Tunnel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Tunnel
	for _, t := range g.tunnels {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b domain.Tunnel) int { return a.Port - b.Port })
	return out, nil
}

func (g *fakeGateway) ListTunnels(_ context.Context) ([]domain.Tunnel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Tunnel, 0, len(g.tunnels))
	for _, t := range g.tunnels {
		out = append(out, t)
	}
	return out, nil
}

func (g *fakeGateway) StoreSSHKey(_ context.Context, userID, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keyErr != nil {
		return g.keyErr
	}
	g.keys[userID] = key
	return nil
}

func (g *fakeGateway) SSHKey(_ context.Context, userID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys[userID], nil
}

func (g *fakeGateway) hasTunnel(subdomain string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.tunnels[subdomain]
	return ok
}

func (g *fakeGateway) tunnelCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tunnels)
}

type fakeProvisioner struct {
	mu           sync.Mutex
	bootstrapErr func(t domain.Tunnel) error
	teardownErr  func(t domain.Tunnel) error
	bootstrapped []string
	tornDown     []string
}

func (p *fakeProvisioner) Bootstrap(_ context.Context, t domain.Tunnel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bootstrapped = append(p.bootstrapped, t.Subdomain)
	if p.bootstrapErr != nil {
		return p.bootstrapErr(t)
	}
	return nil
}

func (p *fakeProvisioner) Teardown(_ context.Context, t domain.Tunnel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tornDown = append(p.tornDown, t.Subdomain)
	if p.teardownErr != nil {
		return p.teardownErr(t)
	}
	return nil
}

func (p *fakeProvisioner) bootstrapCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.bootstrapped)
}

func (p *fakeProvisioner) teardownCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.tornDown)
}

// fakeVerifier accepts tokens of the form "token-<user id>".
type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (auth.Identity, error) {
	switch token {
	case "token-alice":
		return auth.Identity{UserID: "11111111-1111-1111-1111-111111111111", Email: "alice@example.com"}, nil
	case "token-bob":
		return auth.Identity{UserID: "22222222-2222-2222-2222-222222222222", Email: "bob@example.com"}, nil
	case "token-expired":
		return auth.Identity{}, &auth.Error{Reason: "expired"}
	}
	return auth.Identity{}, &auth.Error{Reason: "malformed"}
}

type fakeKeys struct {
	mu      sync.Mutex
	added   []string
	removed []string
	err     error
}

func (k *fakeKeys) Add(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	k.added = append(k.added, key)
	return nil
}

func (k *fakeKeys) Remove(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.removed = append(k.removed, key)
	return nil
}

var errBoom = errors.New("boom")
