package provision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tnnl/coordinator/internal/domain"
	ilog "github.com/tnnl/coordinator/internal/log"
)

const (
	defaultWorkers = 4
	defaultTimeout = 2 * time.Minute
)

type Options struct {
	BaseDomain string
	Workers    int
	Timeout    time.Duration
	Landing    *Landing
	Logger     *slog.Logger
}

// Backend orders the proxy and certificate operations that bring a tunnel
// online. At most Workers bootstraps or teardowns run at once.
type Backend struct {
	proxy      Proxy
	issuer     CertIssuer
	baseDomain string
	landing    *Landing
	slots      *semaphore.Weighted
	timeout    time.Duration
	log        *slog.Logger
}

func NewBackend(proxy Proxy, issuer CertIssuer, opts Options) *Backend {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = ilog.Discard()
	}
	return &Backend{
		proxy:      proxy,
		issuer:     issuer,
		baseDomain: opts.BaseDomain,
		landing:    opts.Landing,
		slots:      semaphore.NewWeighted(int64(opts.Workers)),
		timeout:    opts.Timeout,
		log:        opts.Logger,
	}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Bootstrap provisions t and stops at the first failing step, returning a
// *StepError. It does not undo completed steps; callers run Teardown.
func (b *Backend) Bootstrap(ctx context.Context, t domain.Tunnel) error {
	ctx, release, err := b.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	host := t.Hostname(b.baseDomain)
	log := b.log.With(ilog.KeySubdomain, t.Subdomain, ilog.KeyPort, t.Port)
	site := Site{Host: host, Subdomain: t.Subdomain, Port: t.Port, BasicAuth: t.HasPassword()}
	final := site
	final.Final = true

	steps := []step{
		{StepWriteBootstrapSite, func(ctx context.Context) error { return b.proxy.WriteSite(ctx, site) }},
		{StepEnableSite, func(ctx context.Context) error { return b.proxy.EnableSite(ctx, host) }},
		{StepReloadBootstrap, b.reload},
		{StepObtainCertificate, func(ctx context.Context) error { return b.issuer.Obtain(ctx, host) }},
		{StepWriteFinalSite, func(ctx context.Context) error { return b.proxy.WriteSite(ctx, final) }},
		{StepLandingPage, func(ctx context.Context) error { return b.writeLanding(ctx, t) }},
	}
	if t.HasPassword() {
		steps = append(steps, step{StepCredentials, func(ctx context.Context) error {
			return b.proxy.WriteCredentials(ctx, t.Subdomain, domain.BasicAuthUser, t.Password)
		}})
	}
	steps = append(steps, step{StepReload, b.reload})

	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			log.Error("tunnel bootstrap failed", ilog.KeyStep, s.name, ilog.KeyErr, err)
			return &StepError{Step: s.name, Err: err}
		}
		log.Debug("tunnel bootstrap step done", ilog.KeyStep, s.name)
	}
	log.Info("tunnel provisioned", "host", host)
	return nil
}

// Teardown removes everything Bootstrap may have created. Every step runs
// even when an earlier one fails; failures are logged and joined.
func (b *Backend) Teardown(ctx context.Context, t domain.Tunnel) error {
	ctx, release, err := b.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	host := t.Hostname(b.baseDomain)
	log := b.log.With(ilog.KeySubdomain, t.Subdomain, ilog.KeyPort, t.Port)
	steps := []step{
		{StepDisableSite, func(ctx context.Context) error { return b.proxy.DisableSite(ctx, host) }},
		{StepRemoveSite, func(ctx context.Context) error { return b.proxy.RemoveSite(ctx, host) }},
		{StepRemoveLandingPage, func(ctx context.Context) error { return b.proxy.RemoveLandingPage(ctx, t.Subdomain) }},
		{StepRemoveCredentials, func(ctx context.Context) error { return b.proxy.RemoveCredentials(ctx, t.Subdomain) }},
		{StepDeleteCertificate, func(ctx context.Context) error { return b.issuer.Delete(ctx, host) }},
		{StepReload, b.reload},
	}

	var errs []error
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			log.Error("tunnel teardown step failed", ilog.KeyStep, s.name, ilog.KeyErr, err)
			errs = append(errs, &StepError{Step: s.name, Err: err})
		}
	}
	if len(errs) == 0 {
		log.Info("tunnel deprovisioned", "host", host)
	}
	return errors.Join(errs...)
}

// acquire waits for a worker slot under the caller's ctx. The step deadline
// starts once the slot is held, so time spent queued behind a slow holder
// does not shorten the run.
func (b *Backend) acquire(ctx context.Context) (context.Context, func(), error) {
	if err := b.slots.Acquire(ctx, 1); err != nil {
		return nil, nil, &StepError{Step: StepAcquire, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	return ctx, func() {
		cancel()
		b.slots.Release(1)
	}, nil
}

func (b *Backend) reload(ctx context.Context) error {
	if err := b.proxy.Validate(ctx); err != nil {
		return err
	}
	return b.proxy.Reload(ctx)
}

func (b *Backend) writeLanding(ctx context.Context, t domain.Tunnel) error {
	if b.landing == nil {
		return nil
	}
	page, err := b.landing.Render(t, b.baseDomain)
	if err != nil {
		return err
	}
	return b.proxy.WriteLandingPage(ctx, t.Subdomain, page)
}
