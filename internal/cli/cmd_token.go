package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tnnl/coordinator/internal/auth"
	"github.com/tnnl/coordinator/internal/config"
)

// runToken mints a client token for smoke tests and manual sessions.
func runToken(args []string) int {
	cfg, err := config.ParseTokenFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token config error:", err)
		return 2
	}
	if cfg.Subject == "" {
		cfg.Subject = uuid.NewString()
	}
	token, err := auth.IssueToken(cfg.Secret, cfg.Audience, cfg.Subject, cfg.Email, cfg.TTL, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "token error:", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

func runSecret() int {
	secret, err := auth.GenerateSecret()
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate secret:", err)
		return 1
	}
	fmt.Println(secret)
	return 0
}
