// Package domain defines the core data types shared across the tnnl
// coordinator's registry, provisioning, store, and protocol layers.
package domain

import "time"

// BasicAuthUser is the fixed username written to a tunnel's password file.
const BasicAuthUser = "tnnl"

// User is an authenticated identity as known to the persistence layer.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Tunnel is one active public endpoint owned by a user. An empty Password
// means the endpoint is served without basic auth.
type Tunnel struct {
	ID        string
	Subdomain string
	UserID    string
	IsCustom  bool
	Port      int
	Password  string
	CreatedAt time.Time
}

// HasPassword reports whether the tunnel is protected by basic auth.
func (t Tunnel) HasPassword() bool {
	return t.Password != ""
}

// Hostname returns the fully qualified public hostname under base.
func (t Tunnel) Hostname(base string) string {
	return t.Subdomain + "." + base
}

// PublicURL returns the https URL peers use to reach the tunnel.
func (t Tunnel) PublicURL(base string) string {
	return "https://" + t.Hostname(base)
}

// WebSocketURL returns the wss URL shown on the tunnel's landing page.
func (t Tunnel) WebSocketURL(base string) string {
	return "wss://" + t.Hostname(base)
}
