// Package sshkeys validates client SSH public keys and maintains the
// authorized_keys file they are granted through.
package sshkeys

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/tnnl/coordinator/internal/domain"
)

const minKeyLen = 80

var allowedPrefixes = []string{"ssh-rsa", "ssh-ed25519", "ssh-dss", "ecdsa-sha2-"}

// Validate checks that key looks like a single authorized_keys entry and
// returns it trimmed. Errors match [domain.ErrInvalidSSHKey].
func Validate(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.ContainsAny(key, "\r\n") {
		return "", fmt.Errorf("%w: must be a single line", domain.ErrInvalidSSHKey)
	}

	known := false
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(key, p) {
			known = true
			break
		}
	}
	if !known {
		return "", fmt.Errorf("%w: unsupported key type", domain.ErrInvalidSSHKey)
	}
	if len(strings.Fields(key)) < 2 {
		return "", fmt.Errorf("%w: missing key data", domain.ErrInvalidSSHKey)
	}
	if len(key) < minKeyLen {
		return "", fmt.Errorf("%w: key too short", domain.ErrInvalidSSHKey)
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSSHKey, err)
	}
	return key, nil
}

// AuthorizedKeys appends and removes lines in an authorized_keys file.
type AuthorizedKeys struct {
	Path string

	mu sync.Mutex
}

func NewAuthorizedKeys(path string) *AuthorizedKeys {
	return &AuthorizedKeys{Path: path}
}

// Add appends key unless an identical line is already present.
func (a *AuthorizedKeys) Add(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.Path), 0o700); err != nil {
		return fmt.Errorf("create ssh dir: %w", err)
	}
	existing, err := os.ReadFile(a.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read authorized keys: %w", err)
	}
	if containsLine(existing, key) {
		return nil
	}

	f, err := os.OpenFile(a.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open authorized keys: %w", err)
	}
	var buf bytes.Buffer
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(key)
	buf.WriteByte('\n')
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append authorized key: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(a.Path, 0o600)
}

// Remove deletes every line equal to key. A missing file is not an error.
func (a *AuthorizedKeys) Remove(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := os.ReadFile(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read authorized keys: %w", err)
	}

	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(existing))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == key {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan authorized keys: %w", err)
	}
	return os.WriteFile(a.Path, out.Bytes(), 0o600)
}

func containsLine(data []byte, key string) bool {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == key {
			return true
		}
	}
	return false
}
