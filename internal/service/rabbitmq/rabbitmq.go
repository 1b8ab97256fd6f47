package rabbitmq

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/probe"
)

const (
	// DefaultVersion is the default RabbitMQ image tag.
	DefaultVersion = "latest"
	// ContainerPort is the AMQP port RabbitMQ listens on inside the sandbox.
	ContainerPort = 5672

	defaultUser  = "guest"
	defaultVHost = "/"
)

// Dialer opens AMQP connections.
type Dialer func(uri string, cfg amqp.Config) (*amqp.Connection, error)

// DefaultDialer is the dialer used when the config doesn't set one.
var DefaultDialer Dialer = amqp.DialConfig

// Config is the RabbitMQ fixture configuration.
type Config struct {
	Runtime *fixture.Runtime
	// Version is the `rabbitmq` image tag, defaults to DefaultVersion.
	Version string
	// Image overrides the full image reference, Version is ignored when set.
	Image string
	// Host is the host address RabbitMQ is bound on, defaults to 127.0.0.1.
	Host string
	// Port is the host port RabbitMQ is bound on, defaults to 5672.
	Port int
	// User and Password default to guest/guest.
	User     string
	Password string
	// VHost defaults to "/".
	VHost string
	// ProbeTimeout bounds a single readiness check.
	ProbeTimeout         time.Duration
	RemoveImageOnRelease bool
	Dialer               Dialer
	Logger               log.Logger
}

func (c *Config) defaults() error {
	if c.Image == "" {
		if c.Version == "" {
			c.Version = DefaultVersion
		}
		c.Image = "rabbitmq:" + c.Version
	}

	if c.Host == "" {
		c.Host = model.DefaultBindAddress
	}

	if c.Port == 0 {
		c.Port = ContainerPort
	}

	if c.User == "" {
		c.User = defaultUser
		if c.Password == "" {
			c.Password = defaultUser
		}
	}
	if c.Password == "" {
		return fmt.Errorf("password is required for user %s: %w", c.User, model.ErrNotValid)
	}

	if c.VHost == "" {
		c.VHost = defaultVHost
	}

	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = probe.DefaultTimeout
	}

	if c.Dialer == nil {
		c.Dialer = DefaultDialer
	}
	if c.Dialer == nil {
		return fmt.Errorf("amqp client: %w", model.ErrCapabilityUnavailable)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "service.RabbitMQ"})

	return nil
}

// RabbitMQ is a disposable RabbitMQ fixture.
//
// The broker doesn't know what queues a test created, so Reset requires the
// queues to delete.
type RabbitMQ struct {
	*fixture.Fixture

	url          string
	dial         Dialer
	probeTimeout time.Duration
	logger       log.Logger
}

// New acquires a RabbitMQ sandbox.
func New(ctx context.Context, cfg Config) (*RabbitMQ, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/",
	}
	if cfg.VHost != defaultVHost {
		u.Path = "/" + cfg.VHost
	}

	env := map[string]string{}
	if cfg.User != defaultUser || cfg.Password != defaultUser {
		env["RABBITMQ_DEFAULT_USER"] = cfg.User
		env["RABBITMQ_DEFAULT_PASS"] = cfg.Password
	}
	if cfg.VHost != defaultVHost {
		env["RABBITMQ_DEFAULT_VHOST"] = cfg.VHost
	}

	r := &RabbitMQ{
		url:          u.String(),
		dial:         cfg.Dialer,
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
	}

	f, err := fixture.New(ctx, fixture.Config{
		Runtime: cfg.Runtime,
		Service: model.ServiceKindRabbitMQ,
		Sandbox: model.SandboxConfig{
			Image: cfg.Image,
			PortBindings: []model.PortBinding{
				{ContainerPort: ContainerPort, HostIP: cfg.Host, HostPort: cfg.Port},
			},
			Env:                  env,
			RemoveImageOnRelease: cfg.RemoveImageOnRelease,
		},
		Prober: fixture.ProberFunc(r.ready),
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	r.Fixture = f

	return r, nil
}

// URL returns the AMQP URL of the fixture.
func (r *RabbitMQ) URL() string { return r.url }

func (r *RabbitMQ) connect(timeout time.Duration) (*amqp.Connection, error) {
	return r.dial(r.url, amqp.Config{
		Dial:       amqp.DefaultDial(timeout),
		Properties: amqp.Table{"connection_name": "fixturebox"},
	})
}

// ready opens and closes a connection, the broker is ready once the AMQP
// handshake succeeds.
func (r *RabbitMQ) ready(ctx context.Context) bool {
	return probe.Check(ctx, r.logger, r.probeTimeout, func(ctx context.Context) error {
		timeout := r.probeTimeout
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
		}

		conn, err := r.connect(timeout)
		if err != nil {
			return err
		}
		defer conn.Close()

		if conn.IsClosed() {
			return amqp.ErrClosed
		}
		return nil
	})
}

// Reset deletes the queues. Deleting a queue that doesn't exist is not an error.
func (r *RabbitMQ) Reset(ctx context.Context, queues []string) error {
	if err := r.Fixture.Reset(ctx); err != nil {
		return err
	}
	if len(queues) == 0 {
		return nil
	}

	conn, err := r.connect(r.probeTimeout)
	if err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("could not open channel: %w", err)
	}
	defer ch.Close()

	for _, q := range queues {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := ch.QueueDelete(q, false, false, false); err != nil {
			return fmt.Errorf("could not delete queue %s: %w", q, err)
		}
		r.logger.Debugf("Queue %s deleted", q)
	}

	return nil
}
