// Package server accepts tunnel client WebSocket connections, runs the
// per-connection protocol and owns the in-memory tunnel registry.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tnnl/coordinator/internal/auth"
	"github.com/tnnl/coordinator/internal/config"
	"github.com/tnnl/coordinator/internal/domain"
	ilog "github.com/tnnl/coordinator/internal/log"
	"github.com/tnnl/coordinator/internal/registry"
)

const (
	handshakeTimeout  = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	wsReadLimit       = 64 << 10
	wsWriteTimeout    = 10 * time.Second
	gatewayTimeout    = 10 * time.Second
	defaultOutboxSize = 64
	defaultShutdown   = 30 * time.Second
)

// Gateway persists users, tunnels and registered keys.
type Gateway interface {
	UpsertUser(ctx context.Context, userID, email string) error
	CreateTunnel(ctx context.Context, t domain.Tunnel) error
	DeleteTunnel(ctx context.Context, subdomain string) error
	GetTunnel(ctx context.Context, subdomain string) (domain.Tunnel, error)
	ListUserTunnels(ctx context.Context, userID string) ([]domain.Tunnel, error)
	ListTunnels(ctx context.Context) ([]domain.Tunnel, error)
	StoreSSHKey(ctx context.Context, userID, key string) error
	SSHKey(ctx context.Context, userID string) (string, error)
}

// Provisioner brings a tunnel's public endpoint up and down.
type Provisioner interface {
	Bootstrap(ctx context.Context, t domain.Tunnel) error
	Teardown(ctx context.Context, t domain.Tunnel) error
}

// KeyStore receives validated SSH public keys.
type KeyStore interface {
	Add(key string) error
	Remove(key string) error
}

type Deps struct {
	Gateway     Gateway
	Provisioner Provisioner
	Verifier    auth.Verifier
	// Keys is optional; nil skips the authorized_keys append.
	Keys KeyStore
}

type Server struct {
	cfg         config.ServerConfig
	gateway     Gateway
	provisioner Provisioner
	verifier    auth.Verifier
	keys        KeyStore
	registry    *registry.Registry
	log         *slog.Logger
	hub         *hub
	upgrader    websocket.Upgrader
	closing     atomic.Bool
	now         func() time.Time
}

type hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = ilog.Discard()
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaultOutboxSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdown
	}
	return &Server{
		cfg:         cfg,
		gateway:     deps.Gateway,
		provisioner: deps.Provisioner,
		verifier:    deps.Verifier,
		keys:        deps.Keys,
		registry:    registry.New(cfg.PortBase),
		log:         logger,
		hub:         &hub{sessions: map[string]*session{}},
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Handler returns the HTTP surface: the protocol WebSocket on /ws and /,
// a health probe and a read-only tunnel lookup.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /v1/tunnels/{subdomain}", s.handleTunnelLookup)
	mux.HandleFunc("GET /v1/ports/{port}", s.handlePortLookup)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/", s.handleWS)
	return mux
}

// Stats is a point-in-time view of the server's in-memory state.
type Stats struct {
	Sessions int `json:"sessions"`
	Tunnels  int `json:"tunnels"`
	// Active lists "subdomain:port" for every tunnel, ordered by port.
	Active []string `json:"active"`
}

func (s *Server) Stats() Stats {
	s.hub.mu.RLock()
	n := len(s.hub.sessions)
	s.hub.mu.RUnlock()

	tunnels := s.registry.List()
	active := make([]string, 0, len(tunnels))
	for _, t := range tunnels {
		active = append(active, t.Subdomain+":"+strconv.Itoa(t.Port))
	}
	return Stats{Sessions: n, Tunnels: len(tunnels), Active: active}
}
