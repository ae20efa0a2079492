package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tnnl/coordinator/internal/config"
	"github.com/tnnl/coordinator/internal/debughttp"
	ilog "github.com/tnnl/coordinator/internal/log"
	"github.com/tnnl/coordinator/internal/provision"
	"github.com/tnnl/coordinator/internal/server"
	"github.com/tnnl/coordinator/internal/sshkeys"
	"github.com/tnnl/coordinator/internal/store/postgres"
	"github.com/tnnl/coordinator/internal/store/sqlite"
)

type gateway interface {
	server.Gateway
	Close() error
}

func runServer(ctx context.Context, args []string) int {
	loadServerEnvFromDotEnv(".env")

	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.LogFormat)

	verifier, err := buildVerifier(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	if cfg.AuthProvider == config.AuthProviderDevInsecure {
		logger.Warn("token signatures are not verified", "auth_provider", cfg.AuthProvider)
	}

	provisioner, err := buildProvisioner(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}

	var keys server.KeyStore
	if path := expandHome(cfg.AuthorizedKeys); path != "" {
		keys = sshkeys.NewAuthorizedKeys(path)
	}

	store, err := openGateway(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	s := server.New(cfg, server.Deps{
		Gateway:     store,
		Provisioner: provisioner,
		Verifier:    verifier,
		Keys:        keys,
	}, logger)

	if err := debughttp.Start(ctx, cfg.PprofListen, func() any { return s.Stats() }, logger); err != nil {
		fmt.Fprintln(os.Stderr, "debug listener error:", err)
		return 1
	}

	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}

func openGateway(ctx context.Context, cfg config.ServerConfig) (gateway, error) {
	if cfg.IsPostgres() {
		store, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := sqlite.OpenWithOptions(cfg.DatabaseURL, sqlite.OpenOptions{MaxOpenConns: cfg.DBMaxOpenConns})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func buildProvisioner(cfg config.ServerConfig, logger *slog.Logger) (*provision.Backend, error) {
	run := provision.ExecRunner{Sudo: cfg.UseSudo, Timeout: cfg.CommandTimeout}

	var proxy provision.Proxy
	switch cfg.ProxyMode {
	case config.ProxyModeNoop:
		proxy = provision.NoopProxy{}
	default:
		proxy = provision.NewNginxProxy(provision.NginxPaths{
			SitesAvailable: cfg.NginxSitesAvailable,
			SitesEnabled:   cfg.NginxSitesEnabled,
			PasswdDir:      cfg.NginxPasswdDir,
			Webroot:        cfg.Webroot,
			ACMEWebroot:    cfg.ACMEWebroot,
			CertDir:        cfg.CertDir,
		}, run, cfg.UseSudo)
	}

	var issuer provision.CertIssuer
	switch cfg.CertIssuer {
	case config.CertIssuerNoop:
		issuer = provision.NoopIssuer{}
	case config.CertIssuerACME:
		issuer = provision.NewACMEIssuer(run, cfg.UseSudo, provision.ACMEOptions{
			DirectoryURL:   cfg.ACMEDirectory,
			Email:          cfg.ACMEEmail,
			AccountKeyPath: expandHome(cfg.ACMEAccountKey),
			Webroot:        cfg.ACMEWebroot,
			CertDir:        cfg.CertDir,
		})
	default:
		issuer = provision.NewCertbotIssuer(run, cfg.UseSudo, cfg.ACMEWebroot, cfg.CertDir, cfg.ACMEEmail)
	}

	landing, err := provision.NewLanding(expandHome(cfg.LandingTemplate))
	if err != nil {
		return nil, err
	}

	return provision.NewBackend(proxy, issuer, provision.Options{
		BaseDomain: cfg.BaseDomain,
		Workers:    cfg.ProvisionWorkers,
		Timeout:    cfg.ProvisionTimeout,
		Landing:    landing,
		Logger:     logger,
	}), nil
}

// expandHome resolves a leading "~/" against the current user's home.
func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
