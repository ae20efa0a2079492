package cli

import (
	"fmt"
	"strings"
)

func printUsage() {
	fmt.Println(`tnnl - tunnel coordination server

Authenticates tunnel clients over WebSocket, assigns each tunnel a public
subdomain and backend port, and provisions its reverse proxy endpoint.

Usage:
  tnnl server [flags]                   Start the coordination server
  tnnl token --sub UUID --email E       Mint a signed client token
  tnnl secret                           Generate a random signing secret
  tnnl version                          Print version
  tnnl help                             Show this help

Environment Variables:
  TNNL_DOMAIN             Base public domain (e.g. tunnels.example.com)
  TNNL_LISTEN             Listen address (default: 0.0.0.0:8080)
  TNNL_DATABASE_URL       SQLite path or postgres:// URL (default: ./tnnl.db)
  TNNL_JWT_SECRET         HS256 signing secret for client tokens
  TNNL_AUTH_PROVIDER      jwt|dev-insecure (default: jwt)
  TNNL_PROXY_MODE         nginx|noop (default: nginx)
  TNNL_CERT_ISSUER        certbot|acme|noop (default: certbot)
  TNNL_ACME_EMAIL         Contact email for certificate issuance
  TNNL_USE_SUDO           Run proxy and certificate commands via sudo -n
  TNNL_LOG_LEVEL          Log level: debug|info|warn|error (default: info)

A .env file in the working directory is read on start; variables already
set in the environment win.`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version != "dev" && !strings.HasPrefix(Version, "v") {
		Version = "v" + Version
	}
}

func printVersion() {
	fmt.Println("tnnl", Version)
}
