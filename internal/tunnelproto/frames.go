// Package tunnelproto defines the JSON frames exchanged between tunnel
// clients and the coordinator over a WebSocket connection.
package tunnelproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Inbound frame types.
const (
	TypeAuth           = "auth"
	TypeRequestTunnel  = "request_tunnel"
	TypeRegisterSSHKey = "register_ssh_key"
	TypeHeartbeat      = "heartbeat"
	TypeListTunnels    = "list_tunnels"
)

// MaxPasswordLen is the longest basic-auth password accepted; bcrypt
// ignores or rejects anything beyond 72 bytes.
const MaxPasswordLen = 72

// ErrInvalidJSON is returned when a text frame is not a JSON object.
var ErrInvalidJSON = errors.New("invalid json")

// ErrUnknownType is returned for a well-formed frame with an unrecognised
// type tag.
var ErrUnknownType = errors.New("unknown message type")

// ProtocolError reports a frame that parsed as JSON but is missing a
// required field or carries a field of the wrong shape.
type ProtocolError struct {
	Field  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return e.Reason + ": " + e.Field
}

// Frame is one decoded inbound frame. The set of implementations is closed:
// *Auth, *RequestTunnel, *RegisterSSHKey, *Heartbeat and *ListTunnels.
type Frame interface {
	Type() string
	inbound()
}

type Auth struct {
	Token string
}

// RequestTunnel asks for a new tunnel. An empty Subdomain selects a random
// name; an empty Password leaves the endpoint unprotected.
type RequestTunnel struct {
	Password  string
	Subdomain string
}

type RegisterSSHKey struct {
	PublicKey string
}

type Heartbeat struct{}

type ListTunnels struct{}

func (*Auth) Type() string           { return TypeAuth }
func (*RequestTunnel) Type() string  { return TypeRequestTunnel }
func (*RegisterSSHKey) Type() string { return TypeRegisterSSHKey }
func (*Heartbeat) Type() string      { return TypeHeartbeat }
func (*ListTunnels) Type() string    { return TypeListTunnels }

func (*Auth) inbound()           {}
func (*RequestTunnel) inbound()  {}
func (*RegisterSSHKey) inbound() {}
func (*Heartbeat) inbound()      {}
func (*ListTunnels) inbound()    {}

type rawFrame struct {
	Type         *string `json:"type"`
	Token        *string `json:"token"`
	Password     *string `json:"password"`
	Subdomain    *string `json:"subdomain"`
	SSHPublicKey *string `json:"ssh_public_key"`
}

// Decode parses one text frame into its typed variant. Unknown fields are
// ignored; a JSON null for an optional field is treated as absent.
func Decode(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, &ProtocolError{Field: typeErr.Field, Reason: "invalid field"}
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if raw.Type == nil || strings.TrimSpace(*raw.Type) == "" {
		return nil, &ProtocolError{Field: "type", Reason: "missing field"}
	}

	switch *raw.Type {
	case TypeAuth:
		if raw.Token == nil || *raw.Token == "" {
			return nil, &ProtocolError{Field: "token", Reason: "missing field"}
		}
		return &Auth{Token: *raw.Token}, nil
	case TypeRequestTunnel:
		if raw.Password != nil && !validPassword(*raw.Password) {
			return nil, &ProtocolError{Field: "password", Reason: "invalid field"}
		}
		return &RequestTunnel{
			Password:  deref(raw.Password),
			Subdomain: deref(raw.Subdomain),
		}, nil
	case TypeRegisterSSHKey:
		if raw.SSHPublicKey == nil || strings.TrimSpace(*raw.SSHPublicKey) == "" {
			return nil, &ProtocolError{Field: "ssh_public_key", Reason: "missing field"}
		}
		return &RegisterSSHKey{PublicKey: *raw.SSHPublicKey}, nil
	case TypeHeartbeat:
		return &Heartbeat{}, nil
	case TypeListTunnels:
		return &ListTunnels{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, *raw.Type)
	}
}

func validPassword(pw string) bool {
	if len(pw) > MaxPasswordLen {
		return false
	}
	for _, r := range pw {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
