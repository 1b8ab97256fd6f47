package fixture

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/sandbox"
	"github.com/slok/fixturebox/internal/storage"
)

const (
	// DefaultPollInterval is the default time between readiness checks.
	DefaultPollInterval = 1 * time.Second
	// DefaultReadyTimeout is the default time to wait for a fixture to be ready.
	DefaultReadyTimeout = 60 * time.Second
)

// Prober knows if the service running inside a sandbox is ready to be used.
// Implementations must bound every call with their own short timeout, a
// single call should not take longer than a poll interval.
type Prober interface {
	Ready(ctx context.Context) bool
}

// Resetter restores the service running inside a sandbox to its initial state.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ProberFunc is a helper to create a Prober from a function.
type ProberFunc func(ctx context.Context) bool

// Ready satisfies Prober interface.
func (p ProberFunc) Ready(ctx context.Context) bool { return p(ctx) }

// ResetterFunc is a helper to create a Resetter from a function.
type ResetterFunc func(ctx context.Context) error

// Reset satisfies Resetter interface.
func (r ResetterFunc) Reset(ctx context.Context) error { return r(ctx) }

// Config is the fixture configuration.
type Config struct {
	// Runtime is the runtime used to acquire the sandbox, if missing the
	// process wide runtime is used (see Init and Default).
	Runtime *Runtime
	// Sandbox is the sandbox acquired for the fixture.
	Sandbox model.SandboxConfig
	// Service is the service kind stored on the ledger, defaults to generic.
	Service model.ServiceKind
	// Prober is the optional readiness check, without it the fixture is ready
	// as soon as the sandbox is running.
	Prober Prober
	// Resetter is the optional reset, without it reset is a no-op.
	Resetter Resetter
	Logger   log.Logger
}

func (c *Config) defaults() error {
	if c.Runtime == nil {
		return fmt.Errorf("runtime is required")
	}

	if c.Service == "" {
		c.Service = model.ServiceKindGeneric
	}

	if err := c.Sandbox.Validate(); err != nil {
		return err
	}

	if c.Logger == nil {
		c.Logger = c.Runtime.logger
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "fixture.Fixture", "service": c.Service})

	return nil
}

// Fixture is a running sandbox owned by a test.
//
// A Fixture only exists with a live sandbox: New acquires the sandbox and
// Release destroys it. Release must always be called (e.g `defer f.Release(ctx)`),
// after that the fixture can't be used anymore.
//
// A Fixture is meant to be used by a single owner, Reset is not atomic
// against other clients writing to the service at the same time.
type Fixture struct {
	sandboxID    string
	recordID     string
	image        string
	portBindings []model.PortBinding
	removeImage  bool
	status       bool
	released     bool

	engine   sandbox.Engine
	repo     storage.Repository
	prober   Prober
	resetter Resetter
	mu       sync.Mutex
	logger   log.Logger
}

// New acquires a sandbox and returns the fixture that owns it.
// If the acquisition fails there is nothing to release.
func New(ctx context.Context, cfg Config) (*Fixture, error) {
	if cfg.Runtime == nil {
		rt, err := Default(ctx)
		if err != nil {
			return nil, err
		}
		cfg.Runtime = rt
	}

	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rt := cfg.Runtime
	id, err := rt.engine.Create(ctx, cfg.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("could not acquire sandbox for image %s: %w", cfg.Sandbox.Image, err)
	}

	f := &Fixture{
		sandboxID:    id,
		image:        cfg.Sandbox.Image,
		portBindings: append([]model.PortBinding{}, cfg.Sandbox.PortBindings...),
		removeImage:  cfg.Sandbox.RemoveImageOnRelease,
		status:       true,
		engine:       rt.engine,
		repo:         rt.repo,
		prober:       cfg.Prober,
		resetter:     cfg.Resetter,
		logger:       cfg.Logger.WithValues(log.Kv{"sandbox-id": id}),
	}

	f.record(ctx, cfg)
	f.logger.Infof("Sandbox acquired for image %s", f.image)

	return f, nil
}

// record stores the fixture on the ledger, the ledger is best effort and
// never fails an acquisition.
func (f *Fixture) record(ctx context.Context, cfg Config) {
	if f.repo == nil {
		return
	}

	rec := model.Fixture{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		Name:      cfg.Sandbox.Name,
		Service:   cfg.Service,
		SandboxID: f.sandboxID,
		Config:    cfg.Sandbox,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.repo.CreateFixture(ctx, rec); err != nil {
		f.logger.Warningf("Could not record fixture on the ledger: %v", err)
		return
	}
	f.recordID = rec.ID
}

// SandboxID returns the engine ID of the sandbox, empty once released.
func (f *Fixture) SandboxID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sandboxID
}

// Image returns the image reference the sandbox was acquired with.
func (f *Fixture) Image() string { return f.image }

// PortBindings returns the sandbox port bindings.
func (f *Fixture) PortBindings() []model.PortBinding {
	return append([]model.PortBinding{}, f.portBindings...)
}

// HostAddress returns the host address bound to a container port.
func (f *Fixture) HostAddress(containerPort int) (string, bool) {
	for _, pb := range f.portBindings {
		if pb.ContainerPort == containerPort {
			return pb.HostAddress(), true
		}
	}
	return "", false
}

// SetStatus sets the readiness latch. A false latch makes the fixture never
// ready regardless of the service probe, used to force failure paths.
func (f *Fixture) SetStatus(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = ready
}

// Ready returns true when the service inside the sandbox is ready to be used.
func (f *Fixture) Ready(ctx context.Context) bool {
	f.mu.Lock()
	status, released := f.status, f.released
	f.mu.Unlock()

	if released || !status {
		return false
	}
	if f.prober == nil {
		return true
	}

	return f.prober.Ready(ctx)
}

// Reset restores the service inside the sandbox to its initial state.
func (f *Fixture) Reset(ctx context.Context) error {
	if err := f.checkUsable(); err != nil {
		return err
	}
	if f.resetter == nil {
		return nil
	}

	if err := f.resetter.Reset(ctx); err != nil {
		return fmt.Errorf("could not reset service: %w", err)
	}

	f.logger.Debugf("Service reset")
	return nil
}

// WaitOpts are the options of WaitUntilReady.
type WaitOpts struct {
	// PollInterval is the time between readiness checks, defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Timeout is the maximum time to wait, defaults to DefaultReadyTimeout.
	Timeout time.Duration
}

func (o *WaitOpts) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultReadyTimeout
	}
}

// WaitUntilReady blocks until the fixture is ready.
// It returns model.ErrReadyTimeout when the timeout is reached, the last
// sleep is clamped to the remaining time so it never overshoots the timeout
// by more than one readiness check. The fixture is still usable after a timeout.
func (f *Fixture) WaitUntilReady(ctx context.Context, opts WaitOpts) error {
	if err := f.checkUsable(); err != nil {
		return err
	}
	opts.defaults()

	start := time.Now()
	attempts := 0
	for {
		attempts++
		if f.Ready(ctx) {
			f.logger.Debugf("Ready after %d attempts (%s)", attempts, time.Since(start))
			return nil
		}

		elapsed := time.Since(start)
		if elapsed >= opts.Timeout {
			return fmt.Errorf("sandbox %s not ready after %d attempts in %s: %w", f.SandboxID(), attempts, elapsed, model.ErrReadyTimeout)
		}

		wait := opts.PollInterval
		if remaining := opts.Timeout - elapsed; remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for sandbox %s: %w", f.SandboxID(), ctx.Err())
		case <-timer.C:
		}
	}
}

// Release destroys the sandbox. It runs the teardown only once, next calls are no-ops.
//
// The sandbox image ID is read before removing the sandbox, the sandbox is
// stopped and force removed with its volumes, and if requested the image is
// deleted after. Deleting an image still used by other sandboxes is skipped.
// Any other failure returns model.ErrTeardown.
func (f *Fixture) Release(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.released {
		return nil
	}
	f.released = true

	id := f.sandboxID
	f.sandboxID = ""

	if err := Teardown(ctx, f.engine, id, f.removeImage, f.logger); err != nil {
		return err
	}

	if f.repo != nil && f.recordID != "" {
		if err := f.repo.DeleteFixture(ctx, f.recordID); err != nil {
			f.logger.Warningf("Could not delete fixture from the ledger: %v", err)
		}
	}

	f.logger.Infof("Sandbox released")
	return nil
}

// Teardown destroys a sandbox: reads its image, stops it, force removes it with
// its volumes and, if removeImage is set, soft deletes the image (an image in
// use by other sandboxes is kept). Every step runs even if a previous one
// failed, failures are returned joined and wrapped with model.ErrTeardown.
func Teardown(ctx context.Context, eng sandbox.Engine, id string, removeImage bool, logger log.Logger) error {
	if logger == nil {
		logger = log.Noop
	}

	var errs []error

	// The image association is lost once the sandbox is removed.
	imageID, imgErr := eng.ImageOf(ctx, id)
	if imgErr != nil {
		switch {
		case errors.Is(imgErr, model.ErrNotFound):
			logger.Debugf("Sandbox already gone, skipping image removal")
		case removeImage:
			errs = append(errs, fmt.Errorf("could not get sandbox image: %w", imgErr))
		default:
			logger.Debugf("Could not get sandbox image: %v", imgErr)
		}
	}

	if err := eng.Stop(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("could not stop sandbox: %w", err))
	}

	removed := true
	if err := eng.Remove(ctx, id); err != nil {
		removed = false
		errs = append(errs, fmt.Errorf("could not remove sandbox: %w", err))
	}

	if removeImage && imgErr == nil && removed {
		err := eng.RemoveImage(ctx, imageID)
		switch {
		case err == nil:
			logger.Debugf("Image %s removed", imageID)
		case errors.Is(err, model.ErrImageConflict):
			logger.Debugf("Image %s still in use, not removed", imageID)
		default:
			errs = append(errs, fmt.Errorf("could not remove image: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: sandbox %s: %w", model.ErrTeardown, id, errors.Join(errs...))
	}

	return nil
}

func (f *Fixture) checkUsable() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.released {
		return fmt.Errorf("fixture for image %s: %w", f.image, model.ErrReleased)
	}
	return nil
}

// Run acquires a fixture, waits until it's ready and calls fn with it.
// The fixture is always released when Run returns, even if ctx was cancelled.
func Run(ctx context.Context, cfg Config, opts WaitOpts, fn func(ctx context.Context, f *Fixture) error) (err error) {
	f, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := f.Release(context.WithoutCancel(ctx)); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if err := f.WaitUntilReady(ctx, opts); err != nil {
		return err
	}

	return fn(ctx, f)
}
