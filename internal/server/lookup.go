package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tnnl/coordinator/internal/domain"
	ilog "github.com/tnnl/coordinator/internal/log"
)

type tunnelStatus struct {
	Subdomain string `json:"subdomain"`
	URL       string `json:"url"`
	Port      int    `json:"port"`
	Protected bool   `json:"protected"`
	Persisted bool   `json:"persisted"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleTunnelLookup(w http.ResponseWriter, r *http.Request) {
	sub := strings.ToLower(strings.TrimSpace(r.PathValue("subdomain")))
	t, ok := s.registry.Get(sub)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": domain.ErrTunnelNotFound.Error()})
		return
	}
	s.writeTunnelStatus(w, r, t)
}

// handlePortLookup resolves which tunnel a proxied backend port belongs to.
func (s *Server) handlePortLookup(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil || port <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid port"})
		return
	}
	t, ok := s.registry.GetByPort(port)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": domain.ErrTunnelNotFound.Error()})
		return
	}
	s.writeTunnelStatus(w, r, t)
}

func (s *Server) writeTunnelStatus(w http.ResponseWriter, r *http.Request, t domain.Tunnel) {
	persisted := true
	ctx, cancel := context.WithTimeout(r.Context(), gatewayTimeout)
	defer cancel()
	if _, err := s.gateway.GetTunnel(ctx, t.Subdomain); err != nil {
		persisted = false
		if !errors.Is(err, domain.ErrTunnelNotFound) {
			s.log.Warn("tunnel record lookup failed", ilog.KeySubdomain, t.Subdomain, ilog.KeyErr, err)
		}
	}

	writeJSON(w, http.StatusOK, tunnelStatus{
		Subdomain: t.Subdomain,
		URL:       t.PublicURL(s.cfg.BaseDomain),
		Port:      t.Port,
		Protected: t.HasPassword(),
		Persisted: persisted,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}
