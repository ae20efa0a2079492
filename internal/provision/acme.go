package provision

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/acme"
)

// ACMEIssuer obtains certificates in-process over ACME HTTP-01. Challenge
// responses are written under Webroot for the bootstrap site to serve, and
// issued material is stored as live/<host>/{fullchain,privkey}.pem below
// CertDir, the layout the nginx site expects.
type ACMEIssuer struct {
	directoryURL string
	email        string
	accountKey   string
	webroot      string
	certDir      string
	fs           fileSystem
	now          func() time.Time

	mu     sync.Mutex
	client *acme.Client
}

type ACMEOptions struct {
	DirectoryURL   string
	Email          string
	AccountKeyPath string
	Webroot        string
	CertDir        string
}

func NewACMEIssuer(run Runner, privileged bool, opts ACMEOptions) *ACMEIssuer {
	if opts.DirectoryURL == "" {
		opts.DirectoryURL = acme.LetsEncryptURL
	}
	if opts.AccountKeyPath == "" {
		opts.AccountKeyPath = filepath.Join(opts.CertDir, "tnnl-acme-account.pem")
	}
	return &ACMEIssuer{
		directoryURL: opts.DirectoryURL,
		email:        opts.Email,
		accountKey:   opts.AccountKeyPath,
		webroot:      opts.Webroot,
		certDir:      opts.CertDir,
		fs:           newFileSystem(run, privileged),
		now:          time.Now,
	}
}

func (a *ACMEIssuer) Obtain(ctx context.Context, host string) error {
	dir := liveDir(a.certDir, host)
	if certificateUsable(filepath.Join(dir, "fullchain.pem"), a.now()) {
		return nil
	}

	client, err := a.ensureClient(ctx)
	if err != nil {
		return err
	}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(host))
	if err != nil {
		return fmt.Errorf("acme authorize order: %w", err)
	}
	for _, authzURL := range order.AuthzURLs {
		if err := a.authorize(ctx, client, authzURL); err != nil {
			return err
		}
	}
	order, err = client.WaitOrder(ctx, order.URI)
	if err != nil {
		return fmt.Errorf("acme wait order: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{DNSNames: []string{host}}, key)
	if err != nil {
		return fmt.Errorf("create csr: %w", err)
	}
	chain, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return fmt.Errorf("acme finalize order: %w", err)
	}

	var fullchain bytes.Buffer
	for _, der := range chain {
		if err := pem.Encode(&fullchain, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			return err
		}
	}
	keyPEM, err := encodeECKey(key)
	if err != nil {
		return err
	}
	if err := a.fs.WriteFile(ctx, filepath.Join(dir, "privkey.pem"), keyPEM, 0o600); err != nil {
		return err
	}
	return a.fs.WriteFile(ctx, filepath.Join(dir, "fullchain.pem"), fullchain.Bytes(), 0o644)
}

func (a *ACMEIssuer) authorize(ctx context.Context, client *acme.Client, authzURL string) error {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return fmt.Errorf("acme get authorization: %w", err)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}

	var chal *acme.Challenge
	for _, c := range authz.Challenges {
		if c.Type == "http-01" {
			chal = c
			break
		}
	}
	if chal == nil {
		return errors.New("acme: no http-01 challenge offered")
	}

	body, err := client.HTTP01ChallengeResponse(chal.Token)
	if err != nil {
		return err
	}
	tokenPath := filepath.Join(a.webroot, filepath.FromSlash(strings.TrimPrefix(client.HTTP01ChallengePath(chal.Token), "/")))
	if err := a.fs.WriteFile(ctx, tokenPath, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write challenge response: %w", err)
	}
	defer func() { _ = a.fs.Remove(context.WithoutCancel(ctx), tokenPath) }()

	if _, err := client.Accept(ctx, chal); err != nil {
		return fmt.Errorf("acme accept challenge: %w", err)
	}
	if _, err := client.WaitAuthorization(ctx, authz.URI); err != nil {
		return fmt.Errorf("acme wait authorization: %w", err)
	}
	return nil
}

func (a *ACMEIssuer) Delete(ctx context.Context, host string) error {
	return a.fs.RemoveAll(ctx, liveDir(a.certDir, host))
}

func (a *ACMEIssuer) ensureClient(ctx context.Context) (*acme.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}

	key, err := a.loadOrCreateAccountKey(ctx)
	if err != nil {
		return nil, err
	}
	client := &acme.Client{Key: key, DirectoryURL: a.directoryURL}
	acct := &acme.Account{}
	if a.email != "" {
		acct.Contact = []string{"mailto:" + a.email}
	}
	if _, err := client.Register(ctx, acct, acme.AcceptTOS); err != nil && !errors.Is(err, acme.ErrAccountAlreadyExists) {
		return nil, fmt.Errorf("acme register: %w", err)
	}
	a.client = client
	return client, nil
}

func (a *ACMEIssuer) loadOrCreateAccountKey(ctx context.Context) (crypto.Signer, error) {
	if data, err := os.ReadFile(a.accountKey); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("acme account key %s: no PEM block", a.accountKey)
		}
		return x509.ParseECPrivateKey(block.Bytes)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read acme account key: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	keyPEM, err := encodeECKey(key)
	if err != nil {
		return nil, err
	}
	if err := a.fs.WriteFile(ctx, a.accountKey, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("store acme account key: %w", err)
	}
	return key, nil
}

func encodeECKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
