package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/probe"
)

const (
	// DefaultVersion is the default Redis image tag.
	DefaultVersion = "5.0.7"
	// ContainerPort is the port Redis listens on inside the sandbox.
	ContainerPort = 6379
)

// ClientFactory creates Redis clients.
type ClientFactory func(opts *goredis.Options) *goredis.Client

// DefaultClientFactory is the client factory used when the config doesn't set one.
var DefaultClientFactory ClientFactory = goredis.NewClient

// Config is the Redis fixture configuration.
type Config struct {
	Runtime *fixture.Runtime
	// Version is the `redis` image tag, defaults to DefaultVersion.
	Version string
	// Image overrides the full image reference, Version is ignored when set.
	Image string
	// Host is the host address Redis is bound on, defaults to 127.0.0.1.
	Host string
	// Port is the host port Redis is bound on, defaults to 6379.
	Port     int
	Password string
	DB       int
	// ProbeTimeout bounds a single readiness check.
	ProbeTimeout         time.Duration
	RemoveImageOnRelease bool
	ClientFactory        ClientFactory
	Logger               log.Logger
}

func (c *Config) defaults() error {
	if c.Image == "" {
		if c.Version == "" {
			c.Version = DefaultVersion
		}
		c.Image = "redis:" + c.Version
	}

	if c.Host == "" {
		c.Host = model.DefaultBindAddress
	}

	if c.Port == 0 {
		c.Port = ContainerPort
	}

	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = probe.DefaultTimeout
	}

	if c.ClientFactory == nil {
		c.ClientFactory = DefaultClientFactory
	}
	if c.ClientFactory == nil {
		return fmt.Errorf("redis client: %w", model.ErrCapabilityUnavailable)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "service.Redis"})

	return nil
}

// Redis is a disposable Redis fixture.
type Redis struct {
	*fixture.Fixture

	addr         string
	client       *goredis.Client
	probeTimeout time.Duration
	logger       log.Logger
}

// New acquires a Redis sandbox.
func New(ctx context.Context, cfg Config) (*Redis, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	r := &Redis{
		addr: addr,
		client: cfg.ClientFactory(&goredis.Options{
			Addr:        addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.ProbeTimeout,
			MaxRetries:  -1,
		}),
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
	}

	var cmd []string
	if cfg.Password != "" {
		cmd = []string{"redis-server", "--requirepass", cfg.Password}
	}

	f, err := fixture.New(ctx, fixture.Config{
		Runtime: cfg.Runtime,
		Service: model.ServiceKindRedis,
		Sandbox: model.SandboxConfig{
			Image: cfg.Image,
			PortBindings: []model.PortBinding{
				{ContainerPort: ContainerPort, HostIP: cfg.Host, HostPort: cfg.Port},
			},
			Cmd:                  cmd,
			RemoveImageOnRelease: cfg.RemoveImageOnRelease,
		},
		Prober:   fixture.ProberFunc(r.ready),
		Resetter: fixture.ResetterFunc(r.reset),
		Logger:   cfg.Logger,
	})
	if err != nil {
		_ = r.client.Close()
		return nil, err
	}
	r.Fixture = f

	return r, nil
}

// Addr returns the `host:port` address Redis is reachable on.
func (r *Redis) Addr() string { return r.addr }

// Client returns the Redis client of the fixture, it's closed on release.
func (r *Redis) Client() *goredis.Client { return r.client }

func (r *Redis) ready(ctx context.Context) bool {
	return probe.Check(ctx, r.logger, r.probeTimeout, func(ctx context.Context) error {
		return r.client.ClientList(ctx).Err()
	})
}

func (r *Redis) reset(ctx context.Context) error {
	return r.client.FlushAll(ctx).Err()
}

// Release closes the client and releases the sandbox.
func (r *Redis) Release(ctx context.Context) error {
	if err := r.client.Close(); err != nil {
		r.logger.Debugf("Could not close client: %v", err)
	}
	return r.Fixture.Release(ctx)
}
