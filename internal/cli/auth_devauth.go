//go:build devauth

package cli

import (
	"github.com/tnnl/coordinator/internal/auth"
	"github.com/tnnl/coordinator/internal/auth/devauth"
)

func init() {
	devVerifierFactory = func() auth.Verifier { return devauth.New() }
}
