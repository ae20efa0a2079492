package server

import (
	"context"
	"errors"

	"github.com/tnnl/coordinator/internal/auth"
	"github.com/tnnl/coordinator/internal/domain"
	ilog "github.com/tnnl/coordinator/internal/log"
	"github.com/tnnl/coordinator/internal/provision"
	"github.com/tnnl/coordinator/internal/sshkeys"
	"github.com/tnnl/coordinator/internal/tunnelproto"
)

var (
	errDatabase       = errors.New("database error")
	errSSHKeyRegister = errors.New("failed to register ssh key")
)

// dispatch handles one decoded frame and returns the single reply for it.
func (s *Server) dispatch(sess *session, frame tunnelproto.Frame) tunnelproto.Message {
	var (
		reply tunnelproto.Message
		err   error
	)
	switch f := frame.(type) {
	case *tunnelproto.Auth:
		reply, err = s.handleAuth(sess, f)
	case *tunnelproto.RequestTunnel:
		reply, err = s.handleRequestTunnel(sess, f)
	case *tunnelproto.RegisterSSHKey:
		reply, err = s.handleRegisterSSHKey(sess, f)
	case *tunnelproto.ListTunnels:
		reply, err = s.handleListTunnels(sess)
	case *tunnelproto.Heartbeat:
		reply = tunnelproto.NewHeartbeatAck(s.now())
	default:
		err = tunnelproto.ErrUnknownType
	}
	if err != nil {
		return tunnelproto.NewError(peerMessage(err))
	}
	return reply
}

func (s *Server) handleAuth(sess *session, f *tunnelproto.Auth) (tunnelproto.Message, error) {
	if sess.authenticated() {
		return nil, domain.ErrAlreadyAuthenticated
	}
	id, err := s.verifier.Verify(f.Token)
	if err != nil {
		s.log.Warn("authentication rejected", ilog.KeyConnID, sess.id, ilog.KeyErr, err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
	defer cancel()
	if err := s.gateway.UpsertUser(ctx, id.UserID, id.Email); err != nil {
		s.log.Error("failed to upsert user", ilog.KeyConnID, sess.id, ilog.KeyUserID, id.UserID, ilog.KeyErr, err)
		return nil, errDatabase
	}

	sess.userID = id.UserID
	sess.email = id.Email
	s.log.Info("client authenticated", ilog.KeyConnID, sess.id, ilog.KeyUserID, id.UserID)
	return tunnelproto.NewAuthSuccess(id.UserID, id.Email), nil
}

// handleRequestTunnel allocates, persists and provisions a tunnel. A failure
// after allocation undoes everything done so far before replying.
func (s *Server) handleRequestTunnel(sess *session, f *tunnelproto.RequestTunnel) (tunnelproto.Message, error) {
	if !sess.authenticated() {
		return nil, domain.ErrNotAuthenticated
	}

	var (
		t   domain.Tunnel
		err error
	)
	if f.Subdomain != "" {
		t, err = s.registry.AllocateCustom(sess.userID, f.Subdomain, f.Password)
	} else {
		t, err = s.registry.AllocateRandom(sess.userID, f.Password)
	}
	if err != nil {
		return nil, err
	}
	log := s.log.With(ilog.KeyConnID, sess.id, ilog.KeyUserID, sess.userID, ilog.KeySubdomain, t.Subdomain, ilog.KeyPort, t.Port)

	ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
	err = s.gateway.CreateTunnel(ctx, t)
	cancel()
	if err != nil {
		log.Error("failed to persist tunnel", ilog.KeyErr, err)
		_, _ = s.registry.Remove(t.Subdomain)
		return nil, errDatabase
	}

	if err := s.provisioner.Bootstrap(context.Background(), t); err != nil {
		log.Error("tunnel provisioning failed", ilog.KeyErr, err)
		s.releaseTunnel(t)
		return nil, err
	}

	sess.tunnels = append(sess.tunnels, t)
	log.Info("tunnel assigned", "custom", t.IsCustom, "protected", t.HasPassword())
	return tunnelproto.NewTunnelAssigned(t, s.cfg.BaseDomain), nil
}

func (s *Server) handleRegisterSSHKey(sess *session, f *tunnelproto.RegisterSSHKey) (tunnelproto.Message, error) {
	if !sess.authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	key, err := sshkeys.Validate(f.PublicKey)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
	defer cancel()
	previous, err := s.gateway.SSHKey(ctx, sess.userID)
	if err != nil {
		s.log.Warn("failed to read previous ssh key", ilog.KeyUserID, sess.userID, ilog.KeyErr, err)
		previous = ""
	}

	// The stored key is only replaced once authorized_keys holds it.
	if s.keys != nil {
		if err := s.keys.Add(key); err != nil {
			s.log.Error("failed to append authorized key", ilog.KeyUserID, sess.userID, ilog.KeyErr, err)
			return nil, errSSHKeyRegister
		}
	}
	if err := s.gateway.StoreSSHKey(ctx, sess.userID, key); err != nil {
		s.log.Error("failed to store ssh key", ilog.KeyUserID, sess.userID, ilog.KeyErr, err)
		if s.keys != nil && key != previous {
			if err := s.keys.Remove(key); err != nil {
				s.log.Warn("failed to roll back authorized key", ilog.KeyUserID, sess.userID, ilog.KeyErr, err)
			}
		}
		return nil, errSSHKeyRegister
	}
	// One key per user: the replaced key loses access.
	if s.keys != nil && previous != "" && previous != key {
		if err := s.keys.Remove(previous); err != nil {
			s.log.Warn("failed to remove replaced authorized key", ilog.KeyUserID, sess.userID, ilog.KeyErr, err)
		}
	}
	s.log.Info("ssh key registered", ilog.KeyConnID, sess.id, ilog.KeyUserID, sess.userID)
	return tunnelproto.NewSSHKeyRegistered(), nil
}

func (s *Server) handleListTunnels(sess *session) (tunnelproto.Message, error) {
	if !sess.authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
	defer cancel()
	tunnels, err := s.gateway.ListUserTunnels(ctx, sess.userID)
	if err != nil {
		s.log.Error("failed to list tunnels", ilog.KeyUserID, sess.userID, ilog.KeyErr, err)
		return nil, errDatabase
	}
	return tunnelproto.NewTunnelList(tunnels, s.cfg.BaseDomain), nil
}

// peerMessage maps an error to the text sent in an error frame. Storage
// and provisioning internals never reach the peer.
func peerMessage(err error) string {
	var (
		protoErr *tunnelproto.ProtocolError
		authErr  *auth.Error
		stepErr  *provision.StepError
	)
	switch {
	case errors.Is(err, tunnelproto.ErrInvalidJSON):
		return "invalid json"
	case errors.As(err, &protoErr):
		return protoErr.Error()
	case errors.Is(err, tunnelproto.ErrUnknownType):
		return "unknown message type"
	case errors.Is(err, domain.ErrNotAuthenticated):
		return "not authenticated"
	case errors.Is(err, domain.ErrAlreadyAuthenticated):
		return "already authenticated"
	case errors.As(err, &authErr):
		return authErr.Error()
	case errors.Is(err, domain.ErrInvalidToken):
		return "invalid token"
	case errors.Is(err, domain.ErrInvalidSubdomain):
		return "invalid subdomain"
	case errors.Is(err, domain.ErrSubdomainTaken):
		return "subdomain already in use"
	case errors.Is(err, domain.ErrPortsExhausted):
		return "no free ports"
	case errors.As(err, &stepErr):
		return "tunnel provisioning failed: " + stepErr.Step
	case errors.Is(err, domain.ErrInvalidSSHKey):
		return err.Error()
	case errors.Is(err, errDatabase), errors.Is(err, errSSHKeyRegister):
		return err.Error()
	}
	return "internal error"
}
