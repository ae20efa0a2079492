package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tnnl/coordinator/internal/netutil"
)

// Auth providers.
const (
	AuthProviderJWT         = "jwt"
	AuthProviderDevInsecure = "dev-insecure"
)

// Proxy modes.
const (
	ProxyModeNginx = "nginx"
	ProxyModeNoop  = "noop"
)

// Certificate issuers.
const (
	CertIssuerCertbot = "certbot"
	CertIssuerACME    = "acme"
	CertIssuerNoop    = "noop"
)

type ServerConfig struct {
	Listen              string
	DatabaseURL         string
	DBMaxOpenConns      int
	BaseDomain          string
	JWTSecret           string
	JWTAudience         string
	AuthProvider        string
	LogLevel            string
	LogFormat           string
	ProxyMode           string
	CertIssuer          string
	ACMEEmail           string
	ACMEDirectory       string
	ACMEAccountKey      string
	NginxSitesAvailable string
	NginxSitesEnabled   string
	NginxPasswdDir      string
	Webroot             string
	ACMEWebroot         string
	CertDir             string
	LandingTemplate     string
	UseSudo             bool
	AuthorizedKeys      string
	ProvisionWorkers    int
	ProvisionTimeout    time.Duration
	CommandTimeout      time.Duration
	OutboxSize          int
	PortBase            int
	ShutdownTimeout     time.Duration
	PprofListen         string
}

type TokenConfig struct {
	Secret   string
	Audience string
	Subject  string
	Email    string
	TTL      time.Duration
}

const defaultServerListen = "0.0.0.0:8080"
const defaultServerDatabaseURL = "./tnnl.db"
const defaultJWTAudience = "authenticated"
const defaultNginxSitesAvailable = "/etc/nginx/sites-available"
const defaultNginxSitesEnabled = "/etc/nginx/sites-enabled"
const defaultNginxPasswdDir = "/etc/nginx/passwd"
const defaultWebroot = "/var/www/html"
const defaultACMEWebroot = "/var/www/certbot"
const defaultCertDir = "/etc/letsencrypt"
const defaultACMEDirectory = "https://acme-v02.api.letsencrypt.org/directory"
const defaultAuthorizedKeys = "~/.ssh/authorized_keys"
const defaultProvisionWorkers = 4
const defaultProvisionTimeout = 2 * time.Minute
const defaultCommandTimeout = 90 * time.Second
const defaultOutboxSize = 64
const defaultPortBase = 10000
const defaultShutdownTimeout = 30 * time.Second
const defaultTokenTTL = time.Hour

func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		Listen:              envOrDefault("TNNL_LISTEN", defaultServerListen),
		DatabaseURL:         envOrDefault("TNNL_DATABASE_URL", defaultServerDatabaseURL),
		DBMaxOpenConns:      envIntOrDefault("TNNL_DB_MAX_OPEN_CONNS", 1),
		BaseDomain:          envOrDefault("TNNL_DOMAIN", ""),
		JWTSecret:           envOrDefault("TNNL_JWT_SECRET", ""),
		JWTAudience:         envOrDefault("TNNL_JWT_AUDIENCE", defaultJWTAudience),
		AuthProvider:        envOrDefault("TNNL_AUTH_PROVIDER", AuthProviderJWT),
		LogLevel:            envOrDefault("TNNL_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("TNNL_LOG_FORMAT", "text"),
		ProxyMode:           envOrDefault("TNNL_PROXY_MODE", ProxyModeNginx),
		CertIssuer:          envOrDefault("TNNL_CERT_ISSUER", CertIssuerCertbot),
		ACMEEmail:           envOrDefault("TNNL_ACME_EMAIL", ""),
		ACMEDirectory:       envOrDefault("TNNL_ACME_DIRECTORY", defaultACMEDirectory),
		ACMEAccountKey:      envOrDefault("TNNL_ACME_ACCOUNT_KEY", ""),
		NginxSitesAvailable: envOrDefault("TNNL_NGINX_SITES_AVAILABLE", defaultNginxSitesAvailable),
		NginxSitesEnabled:   envOrDefault("TNNL_NGINX_SITES_ENABLED", defaultNginxSitesEnabled),
		NginxPasswdDir:      envOrDefault("TNNL_NGINX_PASSWD_DIR", defaultNginxPasswdDir),
		Webroot:             envOrDefault("TNNL_WEBROOT", defaultWebroot),
		ACMEWebroot:         envOrDefault("TNNL_ACME_WEBROOT", defaultACMEWebroot),
		CertDir:             envOrDefault("TNNL_CERT_DIR", defaultCertDir),
		LandingTemplate:     envOrDefault("TNNL_LANDING_TEMPLATE", ""),
		UseSudo:             envBoolOrDefault("TNNL_USE_SUDO", false),
		AuthorizedKeys:      envOrDefault("TNNL_AUTHORIZED_KEYS", defaultAuthorizedKeys),
		ProvisionWorkers:    envIntOrDefault("TNNL_PROVISION_WORKERS", defaultProvisionWorkers),
		ProvisionTimeout:    envDurationOrDefault("TNNL_PROVISION_TIMEOUT", defaultProvisionTimeout),
		CommandTimeout:      envDurationOrDefault("TNNL_COMMAND_TIMEOUT", defaultCommandTimeout),
		OutboxSize:          envIntOrDefault("TNNL_OUTBOX_SIZE", defaultOutboxSize),
		PortBase:            envIntOrDefault("TNNL_PORT_BASE", defaultPortBase),
		ShutdownTimeout:     envDurationOrDefault("TNNL_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		PprofListen:         envOrDefault("TNNL_PPROF_LISTEN", ""),
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP/WebSocket listen address")
	fs.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "SQLite path or postgres:// URL")
	fs.IntVar(&cfg.DBMaxOpenConns, "db-max-open-conns", cfg.DBMaxOpenConns, "Maximum open database connections")
	fs.StringVar(&cfg.BaseDomain, "domain", cfg.BaseDomain, "Public base domain, e.g. tunnel.example.com")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret used to verify client tokens")
	fs.StringVar(&cfg.JWTAudience, "jwt-audience", cfg.JWTAudience, "Required token audience")
	fs.StringVar(&cfg.AuthProvider, "auth-provider", cfg.AuthProvider, "Auth provider: jwt|dev-insecure")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text|json")
	fs.StringVar(&cfg.ProxyMode, "proxy-mode", cfg.ProxyMode, "Reverse proxy: nginx|noop")
	fs.StringVar(&cfg.CertIssuer, "cert-issuer", cfg.CertIssuer, "Certificate issuer: certbot|acme|noop")
	fs.StringVar(&cfg.ACMEEmail, "acme-email", cfg.ACMEEmail, "Contact email for certificate issuance")
	fs.StringVar(&cfg.ACMEDirectory, "acme-directory", cfg.ACMEDirectory, "ACME directory URL (acme issuer)")
	fs.StringVar(&cfg.ACMEAccountKey, "acme-account-key", cfg.ACMEAccountKey, "ACME account key path (acme issuer)")
	fs.StringVar(&cfg.NginxSitesAvailable, "nginx-sites-available", cfg.NginxSitesAvailable, "nginx sites-available dir")
	fs.StringVar(&cfg.NginxSitesEnabled, "nginx-sites-enabled", cfg.NginxSitesEnabled, "nginx sites-enabled dir")
	fs.StringVar(&cfg.NginxPasswdDir, "nginx-passwd-dir", cfg.NginxPasswdDir, "Directory for per-tunnel htpasswd files")
	fs.StringVar(&cfg.Webroot, "webroot", cfg.Webroot, "Directory for tunnel landing pages")
	fs.StringVar(&cfg.ACMEWebroot, "acme-webroot", cfg.ACMEWebroot, "Directory served for HTTP-01 challenges")
	fs.StringVar(&cfg.CertDir, "cert-dir", cfg.CertDir, "Certificate root (contains live/<host>/)")
	fs.StringVar(&cfg.LandingTemplate, "landing-template", cfg.LandingTemplate, "Landing page html/template override")
	fs.BoolVar(&cfg.UseSudo, "sudo", cfg.UseSudo, "Run privileged commands through sudo -n")
	fs.StringVar(&cfg.AuthorizedKeys, "authorized-keys", cfg.AuthorizedKeys, "authorized_keys file for registered SSH keys")
	fs.IntVar(&cfg.ProvisionWorkers, "provision-workers", cfg.ProvisionWorkers, "Maximum concurrent provisioning jobs")
	fs.DurationVar(&cfg.ProvisionTimeout, "provision-timeout", cfg.ProvisionTimeout, "Deadline for one bootstrap or teardown")
	fs.DurationVar(&cfg.CommandTimeout, "command-timeout", cfg.CommandTimeout, "Deadline for one external command")
	fs.IntVar(&cfg.OutboxSize, "outbox-size", cfg.OutboxSize, "Per-connection outbound queue capacity")
	fs.IntVar(&cfg.PortBase, "port-base", cfg.PortBase, "First port handed out to tunnels")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown wait")
	fs.StringVar(&cfg.PprofListen, "pprof-listen", cfg.PprofListen, "Optional debug listener (e.g. 127.0.0.1:6060)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.BaseDomain = normalizeDomainHost(cfg.BaseDomain)
	if cfg.BaseDomain == "" {
		return cfg, errors.New("missing --domain or TNNL_DOMAIN")
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("missing --db or TNNL_DATABASE_URL")
	}

	cfg.AuthProvider = lowerTrim(cfg.AuthProvider)
	switch cfg.AuthProvider {
	case AuthProviderJWT:
		if strings.TrimSpace(cfg.JWTSecret) == "" {
			return cfg, errors.New("missing --jwt-secret or TNNL_JWT_SECRET")
		}
	case AuthProviderDevInsecure:
	default:
		return cfg, errors.New("auth provider must be one of: jwt, dev-insecure")
	}

	cfg.ProxyMode = lowerTrim(cfg.ProxyMode)
	switch cfg.ProxyMode {
	case ProxyModeNginx, ProxyModeNoop:
	default:
		return cfg, errors.New("proxy mode must be one of: nginx, noop")
	}

	cfg.CertIssuer = lowerTrim(cfg.CertIssuer)
	switch cfg.CertIssuer {
	case CertIssuerCertbot, CertIssuerACME:
		if strings.TrimSpace(cfg.ACMEEmail) == "" {
			return cfg, errors.New("missing --acme-email or TNNL_ACME_EMAIL")
		}
	case CertIssuerNoop:
	default:
		return cfg, errors.New("cert issuer must be one of: certbot, acme, noop")
	}

	if cfg.PortBase <= 0 || cfg.PortBase > 65535 {
		return cfg, errors.New("port base must be between 1 and 65535")
	}
	if cfg.ProvisionWorkers <= 0 {
		return cfg, errors.New("provision workers must be > 0")
	}
	if cfg.OutboxSize <= 0 {
		return cfg, errors.New("outbox size must be > 0")
	}
	if cfg.DBMaxOpenConns <= 0 {
		return cfg, errors.New("db max open conns must be > 0")
	}
	if cfg.ProvisionTimeout <= 0 {
		return cfg, errors.New("provision timeout must be > 0")
	}
	if cfg.CommandTimeout <= 0 {
		return cfg, errors.New("command timeout must be > 0")
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("shutdown timeout must be > 0")
	}

	return cfg, nil
}

// IsPostgres reports whether DatabaseURL selects the postgres store.
func (c ServerConfig) IsPostgres() bool {
	u := strings.ToLower(c.DatabaseURL)
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

func ParseTokenFlags(args []string) (TokenConfig, error) {
	cfg := TokenConfig{
		Secret:   envOrDefault("TNNL_JWT_SECRET", ""),
		Audience: envOrDefault("TNNL_JWT_AUDIENCE", defaultJWTAudience),
		TTL:      defaultTokenTTL,
	}

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "HS256 signing secret")
	fs.StringVar(&cfg.Audience, "audience", cfg.Audience, "Token audience")
	fs.StringVar(&cfg.Subject, "sub", "", "User ID (UUID); random when empty")
	fs.StringVar(&cfg.Email, "email", "", "Email claim")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if strings.TrimSpace(cfg.Secret) == "" {
		return cfg, errors.New("missing --secret or TNNL_JWT_SECRET")
	}
	if cfg.TTL <= 0 {
		return cfg, fmt.Errorf("ttl must be > 0, got %s", cfg.TTL)
	}
	cfg.Subject = strings.TrimSpace(cfg.Subject)
	cfg.Email = strings.TrimSpace(cfg.Email)
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func lowerTrim(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func normalizeDomainHost(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	if idx := strings.Index(v, "/"); idx >= 0 {
		v = v[:idx]
	}
	return netutil.NormalizeHost(v)
}
