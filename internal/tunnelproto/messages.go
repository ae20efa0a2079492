package tunnelproto

import (
	"time"

	"github.com/tnnl/coordinator/internal/domain"
)

// Outbound frame types.
const (
	TypeAuthSuccess      = "auth_success"
	TypeTunnelAssigned   = "tunnel_assigned"
	TypeSSHKeyRegistered = "ssh_key_registered"
	TypeHeartbeatAck     = "heartbeat_ack"
	TypeTunnelList       = "tunnel_list"
	TypeError            = "error"
)

// Message is any frame the coordinator sends to a client.
type Message interface {
	outbound()
}

type AuthSuccess struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// TunnelInfo is the client-facing view of a tunnel.
type TunnelInfo struct {
	ID        string  `json:"id"`
	Subdomain string  `json:"subdomain"`
	URL       string  `json:"url"`
	Port      int     `json:"port"`
	Password  *string `json:"password"`
	CreatedAt string  `json:"created_at"`
}

type TunnelAssigned struct {
	Type   string     `json:"type"`
	Tunnel TunnelInfo `json:"tunnel"`
}

type SSHKeyRegistered struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

type HeartbeatAck struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type TunnelList struct {
	Type    string       `json:"type"`
	Tunnels []TunnelInfo `json:"tunnels"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (AuthSuccess) outbound()      {}
func (TunnelAssigned) outbound()   {}
func (SSHKeyRegistered) outbound() {}
func (HeartbeatAck) outbound()     {}
func (TunnelList) outbound()       {}
func (Error) outbound()            {}

func NewAuthSuccess(userID, email string) AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess, UserID: userID, Email: email}
}

func NewTunnelAssigned(t domain.Tunnel, baseDomain string) TunnelAssigned {
	return TunnelAssigned{Type: TypeTunnelAssigned, Tunnel: NewTunnelInfo(t, baseDomain)}
}

func NewSSHKeyRegistered() SSHKeyRegistered {
	return SSHKeyRegistered{Type: TypeSSHKeyRegistered, Success: true}
}

func NewHeartbeatAck(now time.Time) HeartbeatAck {
	return HeartbeatAck{Type: TypeHeartbeatAck, Timestamp: now.UTC().Format(time.RFC3339)}
}

func NewTunnelList(tunnels []domain.Tunnel, baseDomain string) TunnelList {
	out := make([]TunnelInfo, 0, len(tunnels))
	for _, t := range tunnels {
		out = append(out, NewTunnelInfo(t, baseDomain))
	}
	return TunnelList{Type: TypeTunnelList, Tunnels: out}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// NewTunnelInfo renders t for a client. The password is echoed back so the
// owner can share it; it is null when the endpoint is unprotected.
func NewTunnelInfo(t domain.Tunnel, baseDomain string) TunnelInfo {
	info := TunnelInfo{
		ID:        t.ID,
		Subdomain: t.Subdomain,
		URL:       t.PublicURL(baseDomain),
		Port:      t.Port,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.HasPassword() {
		pw := t.Password
		info.Password = &pw
	}
	return info
}
