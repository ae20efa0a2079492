package cli

import (
	"errors"

	"github.com/tnnl/coordinator/internal/auth"
	"github.com/tnnl/coordinator/internal/config"
)

// devVerifierFactory is set only in binaries built with -tags devauth.
var devVerifierFactory func() auth.Verifier

var errDevAuthUnavailable = errors.New("auth provider dev-insecure requires a binary built with -tags devauth")

func buildVerifier(cfg config.ServerConfig) (auth.Verifier, error) {
	if cfg.AuthProvider == config.AuthProviderDevInsecure {
		if devVerifierFactory == nil {
			return nil, errDevAuthUnavailable
		}
		return devVerifierFactory(), nil
	}
	return auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTAudience)
}
