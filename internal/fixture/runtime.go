package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/sandbox"
	"github.com/slok/fixturebox/internal/sandbox/docker"
	"github.com/slok/fixturebox/internal/storage"
)

// RuntimeConfig is the configuration of a fixture runtime.
type RuntimeConfig struct {
	// Engine is the sandbox engine, defaults to the Docker engine configured from env.
	Engine sandbox.Engine
	// Repository is the optional fixture ledger.
	Repository storage.Repository
	Logger     log.Logger
}

func (c *RuntimeConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}

	if c.Engine == nil {
		eng, err := docker.NewEngine(docker.EngineConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrEngineUnavailable, err)
		}
		c.Engine = eng
	}

	return nil
}

// Runtime is a checked sandbox engine ready to acquire fixtures.
// A Runtime is safe for concurrent use, fixtures created from it are not.
type Runtime struct {
	engine sandbox.Engine
	repo   storage.Repository
	logger log.Logger
}

// NewRuntime creates a new runtime. The engine availability is probed once
// here, if it can't be reached it returns model.ErrEngineUnavailable.
func NewRuntime(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	if _, err := cfg.Engine.ListImages(ctx, ""); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEngineUnavailable, err)
	}

	cfg.Logger.Debugf("Sandbox engine is available")

	return &Runtime{
		engine: cfg.Engine,
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Engine returns the runtime sandbox engine.
func (r *Runtime) Engine() sandbox.Engine { return r.engine }

var (
	processMu      sync.Mutex
	processRuntime *Runtime
	processErr     error
)

// Init initializes the process wide runtime used by fixtures that don't set
// one. Only the first call checks the engine, the result (runtime or error)
// is cached and returned on the next calls until Shutdown is called.
func Init(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	processMu.Lock()
	defer processMu.Unlock()

	if processRuntime != nil || processErr != nil {
		return processRuntime, processErr
	}

	processRuntime, processErr = NewRuntime(ctx, cfg)
	return processRuntime, processErr
}

// Default returns the process wide runtime, initializing it with the default
// configuration if Init has not been called.
func Default(ctx context.Context) (*Runtime, error) {
	return Init(ctx, RuntimeConfig{})
}

// Shutdown forgets the process wide runtime, the next Init will check the engine again.
// Fixtures already acquired keep their runtime and must still be released.
func Shutdown() {
	processMu.Lock()
	defer processMu.Unlock()

	processRuntime = nil
	processErr = nil
}
