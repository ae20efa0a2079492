// Package devauth is an authentication verifier for local development. It
// decodes tokens without checking their signature and must never be linked
// into a production binary; the CLI only wires it in builds tagged devauth.
package devauth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tnnl/coordinator/internal/auth"
)

type Verifier struct {
	parser *jwt.Parser
}

func New() *Verifier {
	return &Verifier{parser: jwt.NewParser()}
}

// Verify reads the claims of token as-is. A token whose subject is not a
// UUID is assigned a fresh random identity.
func (v *Verifier) Verify(token string) (auth.Identity, error) {
	claims := &auth.Claims{}
	if _, _, err := v.parser.ParseUnverified(token, claims); err != nil {
		return auth.Identity{}, &auth.Error{Reason: "malformed", Err: err}
	}
	id, err := auth.IdentityFromClaims(claims)
	if err != nil {
		return auth.Identity{UserID: uuid.NewString(), Email: claims.Email}, nil
	}
	return id, nil
}
