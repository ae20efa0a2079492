// Package provision configures the public reverse proxy and TLS material
// that expose a tunnel under its hostname, and tears them down again.
package provision

import (
	"context"
	"fmt"
)

// Bootstrap and teardown step names, as reported in StepError and logs.
const (
	StepAcquire            = "acquire_worker"
	StepWriteBootstrapSite = "write_bootstrap_config"
	StepEnableSite         = "enable_site"
	StepReloadBootstrap    = "reload_bootstrap"
	StepObtainCertificate  = "obtain_certificate"
	StepWriteFinalSite     = "write_final_config"
	StepLandingPage        = "write_landing_page"
	StepCredentials        = "write_credentials"
	StepReload             = "reload"

	StepDisableSite       = "disable_site"
	StepRemoveSite        = "remove_site"
	StepRemoveLandingPage = "remove_landing_page"
	StepRemoveCredentials = "remove_credentials"
	StepDeleteCertificate = "delete_certificate"
)

// Site describes the proxy configuration for one tunnel. A site is first
// written in its bootstrap form (HTTP only, enough to answer ACME
// challenges) and rewritten with Final set once a certificate exists.
type Site struct {
	Host      string
	Subdomain string
	Port      int
	BasicAuth bool
	Final     bool
}

// Proxy is the reverse proxy the coordinator drives. Remove operations
// succeed when the target is already absent.
type Proxy interface {
	WriteSite(ctx context.Context, site Site) error
	RemoveSite(ctx context.Context, host string) error
	EnableSite(ctx context.Context, host string) error
	DisableSite(ctx context.Context, host string) error
	Validate(ctx context.Context) error
	Reload(ctx context.Context) error
	WriteCredentials(ctx context.Context, subdomain, user, password string) error
	RemoveCredentials(ctx context.Context, subdomain string) error
	WriteLandingPage(ctx context.Context, subdomain string, page []byte) error
	RemoveLandingPage(ctx context.Context, subdomain string) error
}

// CertIssuer obtains and deletes TLS certificates. Obtain is idempotent: a
// usable certificate already on disk is kept.
type CertIssuer interface {
	Obtain(ctx context.Context, host string) error
	Delete(ctx context.Context, host string) error
}

// StepError names the provisioning step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provision step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
