package provision

import (
	"context"
	"fmt"
	"path/filepath"
)

// NginxPaths are the filesystem locations an nginx deployment uses.
type NginxPaths struct {
	SitesAvailable string
	SitesEnabled   string
	PasswdDir      string
	Webroot        string
	ACMEWebroot    string
	CertDir        string
}

// NginxProxy manages one site file per tunnel under sites-available,
// enabled through a symlink in sites-enabled.
type NginxProxy struct {
	paths     NginxPaths
	run       Runner
	fs        fileSystem
	testCmd   []string
	reloadCmd []string
}

// NewNginxProxy returns a proxy that writes through run when privileged is
// set and directly otherwise.
func NewNginxProxy(paths NginxPaths, run Runner, privileged bool) *NginxProxy {
	return &NginxProxy{
		paths:     paths,
		run:       run,
		fs:        newFileSystem(run, privileged),
		testCmd:   []string{"nginx", "-t"},
		reloadCmd: []string{"systemctl", "reload", "nginx"},
	}
}

func (n *NginxProxy) availablePath(host string) string {
	return filepath.Join(n.paths.SitesAvailable, host)
}

func (n *NginxProxy) enabledPath(host string) string {
	return filepath.Join(n.paths.SitesEnabled, host)
}

func (n *NginxProxy) credentialsPath(subdomain string) string {
	return filepath.Join(n.paths.PasswdDir, subdomain+".htpasswd")
}

func (n *NginxProxy) landingPath(subdomain string) string {
	return filepath.Join(n.paths.Webroot, subdomain+".html")
}

func (n *NginxProxy) WriteSite(ctx context.Context, site Site) error {
	conf, err := renderSite(siteTemplateData{
		Site:            site,
		ACMEWebroot:     n.paths.ACMEWebroot,
		Webroot:         n.paths.Webroot,
		CertDir:         n.paths.CertDir,
		CredentialsFile: n.credentialsPath(site.Subdomain),
	})
	if err != nil {
		return fmt.Errorf("render site %s: %w", site.Host, err)
	}
	return n.fs.WriteFile(ctx, n.availablePath(site.Host), conf, 0o644)
}

func (n *NginxProxy) RemoveSite(ctx context.Context, host string) error {
	return n.fs.Remove(ctx, n.availablePath(host))
}

func (n *NginxProxy) EnableSite(ctx context.Context, host string) error {
	return n.fs.Symlink(ctx, n.availablePath(host), n.enabledPath(host))
}

func (n *NginxProxy) DisableSite(ctx context.Context, host string) error {
	return n.fs.Remove(ctx, n.enabledPath(host))
}

func (n *NginxProxy) Validate(ctx context.Context) error {
	_, err := n.run.Run(ctx, nil, n.testCmd[0], n.testCmd[1:]...)
	return err
}

func (n *NginxProxy) Reload(ctx context.Context) error {
	_, err := n.run.Run(ctx, nil, n.reloadCmd[0], n.reloadCmd[1:]...)
	return err
}

func (n *NginxProxy) WriteCredentials(ctx context.Context, subdomain, user, password string) error {
	line, err := htpasswdLine(user, password)
	if err != nil {
		return err
	}
	if err := n.fs.MkdirAll(ctx, n.paths.PasswdDir, 0o755); err != nil {
		return err
	}
	return n.fs.WriteFile(ctx, n.credentialsPath(subdomain), line, 0o644)
}

func (n *NginxProxy) RemoveCredentials(ctx context.Context, subdomain string) error {
	return n.fs.Remove(ctx, n.credentialsPath(subdomain))
}

func (n *NginxProxy) WriteLandingPage(ctx context.Context, subdomain string, page []byte) error {
	return n.fs.WriteFile(ctx, n.landingPath(subdomain), page, 0o644)
}

func (n *NginxProxy) RemoveLandingPage(ctx context.Context, subdomain string) error {
	return n.fs.Remove(ctx, n.landingPath(subdomain))
}
