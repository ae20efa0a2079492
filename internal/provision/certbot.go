package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// CertbotIssuer obtains certificates with certbot's webroot plugin. The
// HTTP-01 challenge files land in Webroot, which the bootstrap site serves.
type CertbotIssuer struct {
	run     Runner
	fs      fileSystem
	webroot string
	certDir string
	email   string
	now     func() time.Time
}

func NewCertbotIssuer(run Runner, privileged bool, webroot, certDir, email string) *CertbotIssuer {
	return &CertbotIssuer{
		run:     run,
		fs:      newFileSystem(run, privileged),
		webroot: webroot,
		certDir: certDir,
		email:   email,
		now:     time.Now,
	}
}

func (c *CertbotIssuer) Obtain(ctx context.Context, host string) error {
	if certificateUsable(filepath.Join(liveDir(c.certDir, host), "fullchain.pem"), c.now()) {
		return nil
	}
	if err := c.fs.MkdirAll(ctx, c.webroot, 0o755); err != nil {
		return err
	}
	_, err := c.run.Run(ctx, nil, "certbot", "certonly",
		"--webroot",
		"--webroot-path", c.webroot,
		"-d", host,
		"--non-interactive",
		"--agree-tos",
		"--email", c.email,
		"--keep-until-expiring",
	)
	return err
}

func (c *CertbotIssuer) Delete(ctx context.Context, host string) error {
	if _, err := os.Stat(liveDir(c.certDir, host)); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	_, err := c.run.Run(ctx, nil, "certbot", "delete", "--cert-name", host, "--non-interactive")
	return err
}
