package provision

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// htpasswdLine returns "user:bcrypt-hash\n" in the format nginx's
// auth_basic_user_file accepts.
func htpasswdLine(user, password string) ([]byte, error) {
	if user == "" || strings.ContainsAny(user, ":\n") {
		return nil, fmt.Errorf("invalid basic auth user %q", user)
	}
	if password == "" {
		return nil, errors.New("empty basic auth password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash basic auth password: %w", err)
	}
	return []byte(user + ":" + string(hash) + "\n"), nil
}
