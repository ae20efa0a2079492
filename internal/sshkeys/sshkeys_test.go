package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/tnnl/coordinator/internal/domain"
)

func newTestKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " dev@laptop"
}

func TestValidate(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	got, err := Validate("  " + key + "\n")
	if err != nil {
		t.Fatalf("expected valid key, got %v", err)
	}
	if got != key {
		t.Fatalf("expected trimmed key, got %q", got)
	}

	invalid := map[string]string{
		"unknown prefix": "pgp-key " + strings.Repeat("A", 90),
		"single field":   "ssh-ed25519",
		"too short":      "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5",
		"corrupt data":   "ssh-ed25519 " + strings.Repeat("A", 90),
		"multi line":     key + "\n" + key,
	}
	for name, in := range invalid {
		if _, err := Validate(in); !errors.Is(err, domain.ErrInvalidSSHKey) {
			t.Fatalf("%s: expected ErrInvalidSSHKey, got %v", name, err)
		}
	}
}

func TestAuthorizedKeysAddDedupesAndFixesNewline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ssh", "authorized_keys")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("ssh-rsa EXISTING"), 0o644); err != nil {
		t.Fatal(err)
	}

	ak := NewAuthorizedKeys(path)
	key := newTestKey(t)
	for range 2 {
		if err := ak.Add(key); err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "ssh-rsa EXISTING\n" + key + "\n"
	if string(data) != want {
		t.Fatalf("unexpected file contents:\n%q\nwant\n%q", data, want)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestAuthorizedKeysCreatesDirAndRemoves(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "home", ".ssh", "authorized_keys")
	ak := NewAuthorizedKeys(path)
	a, b := newTestKey(t), newTestKey(t)
	if err := ak.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := ak.Add(b); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("expected dir mode 0700, got %v", info.Mode().Perm())
	}

	if err := ak.Remove(a); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != b+"\n" {
		t.Fatalf("unexpected contents after remove: %q", data)
	}

	missing := NewAuthorizedKeys(filepath.Join(t.TempDir(), "none"))
	if err := missing.Remove(a); err != nil {
		t.Fatalf("remove on missing file: %v", err)
	}
}
