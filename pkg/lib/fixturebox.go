package lib

import (
	"context"
	"fmt"

	"github.com/slok/fixturebox/internal/conventions"
	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/sandbox"
	"github.com/slok/fixturebox/internal/sandbox/docker"
	"github.com/slok/fixturebox/internal/sandbox/fake"
	"github.com/slok/fixturebox/internal/service/mongodb"
	"github.com/slok/fixturebox/internal/service/rabbitmq"
	"github.com/slok/fixturebox/internal/service/redis"
	"github.com/slok/fixturebox/internal/storage"
	"github.com/slok/fixturebox/internal/storage/sqlite"
)

// Config configures the SDK client.
//
// All fields are optional, an empty Config{} uses the Docker engine from the
// environment and records fixtures on ~/.fixturebox/fixturebox.db.
type Config struct {
	// Engine selects the sandbox engine.
	// Default: [EngineDocker].
	Engine EngineType

	// DBPath is the SQLite ledger path.
	// Default: ~/.fixturebox/fixturebox.db.
	DBPath string

	// DisableLedger disables recording fixtures on the ledger.
	DisableLedger bool

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Engine == "" {
		c.Engine = EngineDocker
	}

	if c.DBPath == "" {
		c.DBPath = conventions.DefaultDBPath()
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the SDK entry point to acquire fixtures.
//
// Creating a Client checks the sandbox engine is reachable. Release its
// resources with [Client.Close] once every fixture is released.
// A Client is safe for concurrent use.
type Client struct {
	runtime *fixture.Runtime
	engine  sandbox.Engine
	logger  log.Logger
	closeFn func() error
}

// New creates a new SDK client.
//
// Returns [ErrEngineUnavailable] if the sandbox engine can't be reached.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	var repo storage.Repository
	closeFn := func() error { return nil }
	if !cfg.DisableLedger {
		r, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: cfg.DBPath,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create ledger: %w", err)
		}
		repo = r
		closeFn = r.Close
	}

	rt, err := fixture.NewRuntime(ctx, fixture.RuntimeConfig{
		Engine:     eng,
		Repository: repo,
		Logger:     cfg.Logger,
	})
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	return &Client{
		runtime: rt,
		engine:  eng,
		logger:  cfg.Logger,
		closeFn: closeFn,
	}, nil
}

func newEngine(cfg Config) (sandbox.Engine, error) {
	switch cfg.Engine {
	case EngineDocker:
		eng, err := docker.NewEngine(docker.EngineConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
		}
		return eng, nil
	case EngineFake:
		return fake.NewEngine(fake.EngineConfig{Logger: cfg.Logger})
	default:
		return nil, fmt.Errorf("unsupported engine type: %s: %w", cfg.Engine, ErrNotValid)
	}
}

// Close releases the resources held by the client (the ledger database).
// Fixtures are not released, release them first.
func (c *Client) Close() error {
	return c.closeFn()
}

// Doctor runs the health checks of the sandbox engine.
func (c *Client) Doctor(ctx context.Context) []CheckResult {
	return c.engine.Check(ctx)
}

// NewFixture acquires a sandbox running any image. Without a probe the
// fixture is ready as soon as the sandbox runs.
func (c *Client) NewFixture(ctx context.Context, opts FixtureOpts) (*Fixture, error) {
	cfg := fixture.Config{
		Runtime: c.runtime,
		Sandbox: SandboxConfig{
			Name:                 opts.Name,
			Image:                opts.Image,
			PortBindings:         opts.PortBindings,
			Env:                  opts.Env,
			Cmd:                  opts.Cmd,
			RemoveImageOnRelease: opts.RemoveImageOnRelease,
		},
		Logger: c.logger,
	}
	if opts.Ready != nil {
		cfg.Prober = fixture.ProberFunc(opts.Ready)
	}
	if opts.Reset != nil {
		cfg.Resetter = fixture.ResetterFunc(opts.Reset)
	}

	return fixture.New(ctx, cfg)
}

// NewRedis acquires a Redis fixture.
func (c *Client) NewRedis(ctx context.Context, opts RedisOpts) (*Redis, error) {
	return redis.New(ctx, redis.Config{
		Runtime:              c.runtime,
		Version:              opts.Version,
		Image:                opts.Image,
		Host:                 opts.Host,
		Port:                 opts.Port,
		Password:             opts.Password,
		DB:                   opts.DB,
		ProbeTimeout:         opts.ProbeTimeout,
		RemoveImageOnRelease: opts.RemoveImageOnRelease,
		Logger:               c.logger,
	})
}

// NewMongoDB acquires a MongoDB fixture.
func (c *Client) NewMongoDB(ctx context.Context, opts MongoDBOpts) (*MongoDB, error) {
	return mongodb.New(ctx, mongodb.Config{
		Runtime:                c.runtime,
		Version:                opts.Version,
		Image:                  opts.Image,
		Host:                   opts.Host,
		Port:                   opts.Port,
		Username:               opts.Username,
		Password:               opts.Password,
		ServerSelectionTimeout: opts.ServerSelectionTimeout,
		ProbeTimeout:           opts.ProbeTimeout,
		RemoveImageOnRelease:   opts.RemoveImageOnRelease,
		Logger:                 c.logger,
	})
}

// NewRabbitMQ acquires a RabbitMQ fixture.
func (c *Client) NewRabbitMQ(ctx context.Context, opts RabbitMQOpts) (*RabbitMQ, error) {
	return rabbitmq.New(ctx, rabbitmq.Config{
		Runtime:              c.runtime,
		Version:              opts.Version,
		Image:                opts.Image,
		Host:                 opts.Host,
		Port:                 opts.Port,
		User:                 opts.User,
		Password:             opts.Password,
		VHost:                opts.VHost,
		ProbeTimeout:         opts.ProbeTimeout,
		RemoveImageOnRelease: opts.RemoveImageOnRelease,
		Logger:               c.logger,
	})
}
