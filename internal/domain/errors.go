package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these. The message
// text of each sentinel is what a connected peer sees in an error frame.
var (
	// ErrInvalidSubdomain indicates a requested subdomain failed validation.
	ErrInvalidSubdomain = errors.New("invalid subdomain")

	// ErrSubdomainTaken indicates the requested subdomain is already active.
	ErrSubdomainTaken = errors.New("subdomain already in use")

	// ErrPortsExhausted is returned when every port in the allocation range
	// is held by an active tunnel.
	ErrPortsExhausted = errors.New("no free ports")

	// ErrTunnelNotFound means the requested tunnel does not exist.
	ErrTunnelNotFound = errors.New("tunnel not found")

	// ErrNotAuthenticated is returned for operations attempted before a
	// successful auth frame.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAlreadyAuthenticated rejects a second auth frame on one connection.
	ErrAlreadyAuthenticated = errors.New("already authenticated")

	// ErrInvalidToken indicates the bearer token could not be verified.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidSSHKey indicates a submitted public key was rejected.
	ErrInvalidSSHKey = errors.New("invalid ssh key")
)

// TunnelError wraps an underlying error with tunnel context.
type TunnelError struct {
	Subdomain string
	Op        string
	Err       error
}

func (e *TunnelError) Error() string {
	if e.Subdomain != "" {
		return fmt.Sprintf("tunnel %s: %s: %v", e.Subdomain, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}
