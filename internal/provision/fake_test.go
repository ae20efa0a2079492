package provision

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// recorder collects operation names in call order and fails the ones
// listed in failOn.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
}

func newRecorder() *recorder {
	return &recorder{failOn: make(map[string]error)}
}

func (r *recorder) record(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op)
	return r.failOn[op]
}

func (r *recorder) fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn[op] = err
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeProxy struct {
	*recorder
	sites map[string]Site
	pages map[string][]byte
}

func newFakeProxy(rec *recorder) *fakeProxy {
	return &fakeProxy{recorder: rec, sites: make(map[string]Site), pages: make(map[string][]byte)}
}

func (f *fakeProxy) WriteSite(_ context.Context, site Site) error {
	op := "write_site:bootstrap"
	if site.Final {
		op = "write_site:final"
	}
	if err := f.record(op); err != nil {
		return err
	}
	f.mu.Lock()
	f.sites[site.Host] = site
	f.mu.Unlock()
	return nil
}

func (f *fakeProxy) RemoveSite(_ context.Context, host string) error {
	return f.record("remove_site")
}

func (f *fakeProxy) EnableSite(_ context.Context, host string) error {
	return f.record("enable_site")
}

func (f *fakeProxy) DisableSite(_ context.Context, host string) error {
	return f.record("disable_site")
}

func (f *fakeProxy) Validate(context.Context) error {
	return f.record("validate")
}

func (f *fakeProxy) Reload(context.Context) error {
	return f.record("reload")
}

func (f *fakeProxy) WriteCredentials(_ context.Context, subdomain, user, password string) error {
	return f.record(fmt.Sprintf("write_credentials:%s", user))
}

func (f *fakeProxy) RemoveCredentials(context.Context, string) error {
	return f.record("remove_credentials")
}

func (f *fakeProxy) WriteLandingPage(_ context.Context, subdomain string, page []byte) error {
	if err := f.record("write_landing"); err != nil {
		return err
	}
	f.mu.Lock()
	f.pages[subdomain] = page
	f.mu.Unlock()
	return nil
}

func (f *fakeProxy) RemoveLandingPage(context.Context, string) error {
	return f.record("remove_landing")
}

type fakeIssuer struct {
	*recorder
	block chan struct{}
}

func (f *fakeIssuer) Obtain(ctx context.Context, host string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.record("obtain_cert")
}

func (f *fakeIssuer) Delete(context.Context, string) error {
	return f.record("delete_cert")
}

// fakeRunner records command lines instead of executing them.
type fakeRunner struct {
	mu     sync.Mutex
	cmds   []string
	stdins map[string][]byte
	failOn map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{stdins: make(map[string][]byte), failOn: make(map[string]error)}
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, line)
	if stdin != nil {
		f.stdins[line] = stdin
	}
	return nil, f.failOn[name]
}

func (f *fakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}
