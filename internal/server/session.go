package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tnnl/coordinator/internal/domain"
	ilog "github.com/tnnl/coordinator/internal/log"
	"github.com/tnnl/coordinator/internal/netutil"
	"github.com/tnnl/coordinator/internal/tunnelproto"
)

// session is one client connection. userID, email and tunnels are owned by
// the read loop goroutine and never touched elsewhere.
type session struct {
	id      string
	conn    *websocket.Conn
	outbox  *tunnelproto.Outbox
	userID  string
	email   string
	tunnels []domain.Tunnel
}

func (sess *session) authenticated() bool {
	return sess.userID != ""
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if !netutil.IsWebSocketUpgrade(r.Header) {
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", ilog.KeyErr, err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		outbox: tunnelproto.NewOutbox(conn, wsWriteTimeout, s.cfg.OutboxSize),
	}
	if !s.track(sess) {
		// Shutdown began while the upgrade was in flight.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		sess.outbox.Close()
		return
	}
	s.log.Info("client connected", ilog.KeyConnID, sess.id, "remote", netutil.ClientIP(r))

	go func() {
		defer s.hub.wg.Done()
		s.readLoop(sess)
	}()
}

// track registers sess and counts it in the hub's wait group, unless
// shutdown has begun. closeAllSessions snapshots under the same lock after
// closing is set, so every tracked session is either in that snapshot or
// refused here.
func (s *Server) track(sess *session) bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.hub.sessions[sess.id] = sess
	s.hub.wg.Add(1)
	return true
}

func (s *Server) readLoop(sess *session) {
	defer s.disconnect(sess)

	for {
		mt, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("client read error", ilog.KeyConnID, sess.id, ilog.KeyErr, err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var reply tunnelproto.Message
		frame, err := tunnelproto.Decode(data)
		if err != nil {
			reply = tunnelproto.NewError(peerMessage(err))
		} else {
			reply = s.dispatch(sess, frame)
		}
		if err := sess.outbox.Send(reply); err != nil {
			s.log.Warn("client outbox failed", ilog.KeyConnID, sess.id, ilog.KeyErr, err)
			return
		}
	}
}

// disconnect releases every tunnel the session owns, then forgets it.
func (s *Server) disconnect(sess *session) {
	_ = sess.conn.Close()
	sess.outbox.Close()

	for _, t := range sess.tunnels {
		s.releaseTunnel(t)
	}
	sess.tunnels = nil

	s.hub.mu.Lock()
	delete(s.hub.sessions, sess.id)
	s.hub.mu.Unlock()
	s.log.Info("client disconnected", ilog.KeyConnID, sess.id, ilog.KeyUserID, sess.userID)
}

// releaseTunnel tears down t's endpoint, drops it from the registry and
// deletes its record. Each step runs regardless of the others.
func (s *Server) releaseTunnel(t domain.Tunnel) {
	log := s.log.With(ilog.KeySubdomain, t.Subdomain, ilog.KeyPort, t.Port)

	if err := s.provisioner.Teardown(context.Background(), t); err != nil {
		log.Error("tunnel teardown incomplete", ilog.KeyErr, err)
	}
	if _, err := s.registry.Remove(t.Subdomain); err != nil && !errors.Is(err, domain.ErrTunnelNotFound) {
		log.Error("failed to remove tunnel from registry", ilog.KeyErr, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
	defer cancel()
	if err := s.gateway.DeleteTunnel(ctx, t.Subdomain); err != nil {
		log.Error("failed to delete tunnel record", ilog.KeyErr, err)
	}
	log.Info("tunnel released")
}

func (s *Server) closeAllSessions() {
	s.hub.mu.RLock()
	sessions := make([]*session, 0, len(s.hub.sessions))
	for _, sess := range s.hub.sessions {
		sessions = append(sessions, sess)
	}
	s.hub.mu.RUnlock()

	for _, sess := range sessions {
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = sess.conn.Close()
	}
}
