package provision

import "context"

// NoopProxy accepts every operation without touching the system. It backs
// local development where no reverse proxy is installed.
type NoopProxy struct{}

func (NoopProxy) WriteSite(context.Context, Site) error { return nil }
func (NoopProxy) RemoveSite(context.Context, string) error { return nil }
func (NoopProxy) EnableSite(context.Context, string) error { return nil }
func (NoopProxy) DisableSite(context.Context, string) error { return nil }
func (NoopProxy) Validate(context.Context) error { return nil }
func (NoopProxy) Reload(context.Context) error { return nil }
func (NoopProxy) WriteCredentials(context.Context, string, string, string) error { return nil }
func (NoopProxy) RemoveCredentials(context.Context, string) error { return nil }
func (NoopProxy) WriteLandingPage(context.Context, string, []byte) error { return nil }
func (NoopProxy) RemoveLandingPage(context.Context, string) error { return nil }

// NoopIssuer never requests certificates.
type NoopIssuer struct{}

func (NoopIssuer) Obtain(context.Context, string) error { return nil }
func (NoopIssuer) Delete(context.Context, string) error { return nil }
