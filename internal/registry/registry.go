// Package registry holds the set of active tunnels and hands out their
// subdomains and ports.
package registry

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tnnl/coordinator/internal/domain"
)

const (
	DefaultBasePort = 10000
	maxPort         = 65535

	// randomAttempts bounds retries when a generated name is already active.
	randomAttempts = 16
)

var adjectives = []string{"happy", "fuzzy", "clever", "swift", "bright", "calm", "brave", "wild", "cool", "warm"}
var nouns = []string{"cat", "dog", "bird", "fish", "bear", "wolf", "fox", "deer", "owl", "lion"}

// Registry is the authoritative in-memory index of active tunnels, keyed by
// subdomain with a secondary port index. Both maps change under one lock.
//
// Ports are handed out from a monotonic counter. Once the counter passes
// 65535 it wraps to the base and skips ports still held by active tunnels.
type Registry struct {
	mu          sync.RWMutex
	bySubdomain map[string]domain.Tunnel
	byPort      map[int]string
	basePort    int
	maxPort     int
	nextPort    int

	newSubdomain func() string
	newID        func() string
	now          func() time.Time
}

func New(basePort int) *Registry {
	if basePort <= 0 || basePort > maxPort {
		basePort = DefaultBasePort
	}
	return &Registry{
		bySubdomain:  make(map[string]domain.Tunnel),
		byPort:       make(map[int]string),
		basePort:     basePort,
		maxPort:      maxPort,
		nextPort:     basePort,
		newSubdomain: RandomSubdomain,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// AllocateRandom creates a tunnel under a generated adjective-noun-NNNN
// name, retrying when the name is already active.
func (r *Registry) AllocateRandom(userID, password string) (domain.Tunnel, error) {
	for range randomAttempts {
		t, err := r.insert(userID, r.newSubdomain(), false, password)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, domain.ErrSubdomainTaken) {
			return domain.Tunnel{}, err
		}
	}
	return domain.Tunnel{}, fmt.Errorf("allocate random subdomain after %d attempts: %w", randomAttempts, domain.ErrSubdomainTaken)
}

// AllocateCustom creates a tunnel under a caller-chosen subdomain. Nothing
// changes when the name is invalid or already active.
func (r *Registry) AllocateCustom(userID, subdomain, password string) (domain.Tunnel, error) {
	if err := ValidateSubdomain(subdomain); err != nil {
		return domain.Tunnel{}, err
	}
	return r.insert(userID, subdomain, true, password)
}

// insert checks for the subdomain and takes a port in one critical section.
func (r *Registry) insert(userID, subdomain string, custom bool, password string) (domain.Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySubdomain[subdomain]; exists {
		return domain.Tunnel{}, domain.ErrSubdomainTaken
	}
	port, err := r.takePortLocked()
	if err != nil {
		return domain.Tunnel{}, err
	}

	t := domain.Tunnel{
		ID:        r.newID(),
		Subdomain: subdomain,
		UserID:    userID,
		IsCustom:  custom,
		Port:      port,
		Password:  password,
		CreatedAt: r.now().UTC(),
	}
	r.bySubdomain[subdomain] = t
	r.byPort[port] = subdomain
	return t, nil
}

func (r *Registry) takePortLocked() (int, error) {
	span := r.maxPort - r.basePort + 1
	for range span {
		port := r.nextPort
		r.nextPort++
		if r.nextPort > r.maxPort {
			r.nextPort = r.basePort
		}
		if _, used := r.byPort[port]; !used {
			return port, nil
		}
	}
	return 0, domain.ErrPortsExhausted
}

// Remove drops an active tunnel and frees its port.
func (r *Registry) Remove(subdomain string) (domain.Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.bySubdomain[subdomain]
	if !ok {
		return domain.Tunnel{}, domain.ErrTunnelNotFound
	}
	delete(r.bySubdomain, subdomain)
	delete(r.byPort, t.Port)
	return t, nil
}

func (r *Registry) Get(subdomain string) (domain.Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.bySubdomain[subdomain]
	return t, ok
}

// GetByPort resolves the tunnel currently bound to port.
func (r *Registry) GetByPort(port int) (domain.Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byPort[port]
	if !ok {
		return domain.Tunnel{}, false
	}
	return r.bySubdomain[sub], true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySubdomain)
}

// List returns the active tunnels ordered by port.
func (r *Registry) List() []domain.Tunnel {
	r.mu.RLock()
	out := make([]domain.Tunnel, 0, len(r.bySubdomain))
	for _, t := range r.bySubdomain {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// RandomSubdomain returns a name of the form adjective-noun-NNNN with
// NNNN in [1000, 9999]. Names are not guaranteed unique; callers insert
// them with the usual existence check.
func RandomSubdomain() string {
	return fmt.Sprintf("%s-%s-%d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		1000+rand.IntN(9000),
	)
}
