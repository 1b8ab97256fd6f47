package lib

import (
	"context"
	"time"

	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/service/mongodb"
	"github.com/slok/fixturebox/internal/service/rabbitmq"
	"github.com/slok/fixturebox/internal/service/redis"
)

// EngineType identifies the sandbox engine implementation.
type EngineType string

const (
	// EngineDocker runs sandboxes as Docker containers.
	EngineDocker EngineType = "docker"
	// EngineFake uses an in-memory simulation (nothing runs).
	// Use this for unit testing without infrastructure dependencies.
	EngineFake EngineType = "fake"
)

type (
	// Fixture is an acquired sandbox. Release must always be called.
	Fixture = fixture.Fixture
	// Redis is a Redis fixture with a connected client.
	Redis = redis.Redis
	// MongoDB is a MongoDB fixture with a connected client.
	MongoDB = mongodb.MongoDB
	// RabbitMQ is a RabbitMQ fixture, Reset deletes the queues it's given.
	RabbitMQ = rabbitmq.RabbitMQ
	// WaitOpts bounds WaitUntilReady, zero values use 1s poll interval and 60s timeout.
	WaitOpts = fixture.WaitOpts
	// SandboxConfig is the sandbox acquisition configuration.
	SandboxConfig = model.SandboxConfig
	// PortBinding binds a sandbox port to a host address.
	PortBinding = model.PortBinding
	// CheckResult is the result of an engine health check.
	CheckResult = model.CheckResult
)

var (
	// ErrNotValid is returned on invalid options.
	ErrNotValid = model.ErrNotValid
	// ErrEngineUnavailable is returned when the sandbox engine can't be reached.
	ErrEngineUnavailable = model.ErrEngineUnavailable
	// ErrCapabilityUnavailable is returned when a service protocol client is missing.
	ErrCapabilityUnavailable = model.ErrCapabilityUnavailable
	// ErrReadyTimeout is returned when a fixture is not ready in time.
	ErrReadyTimeout = model.ErrReadyTimeout
	// ErrTeardown is returned when a fixture sandbox could not be released.
	ErrTeardown = model.ErrTeardown
	// ErrReleased is returned when a released fixture is used.
	ErrReleased = model.ErrReleased
)

// ParsePortBinding parses a `[host-ip:][host-port:]container-port[/protocol]` port binding.
func ParsePortBinding(s string) (PortBinding, error) { return model.ParsePortBinding(s) }

// FixtureOpts configures a fixture running any image.
type FixtureOpts struct {
	// Name is the sandbox name. Default: fixturebox-<ulid>.
	Name string
	// Image is the image reference (required).
	Image string
	// PortBindings are the sandbox ports exposed on the host.
	PortBindings []PortBinding
	// Env are the sandbox environment variables.
	Env map[string]string
	// Cmd overrides the image command.
	Cmd []string
	// RemoveImageOnRelease soft deletes the image on release (kept if other sandboxes use it).
	RemoveImageOnRelease bool
	// Ready is the optional readiness probe, it should bound its own duration.
	Ready func(ctx context.Context) bool
	// Reset is the optional reset of the service state.
	Reset func(ctx context.Context) error
}

// RedisOpts configures a Redis fixture. Zero values use the defaults
// (redis:5.0.7 bound on 127.0.0.1:6379).
type RedisOpts struct {
	Version              string
	Image                string
	Host                 string
	Port                 int
	Password             string
	DB                   int
	ProbeTimeout         time.Duration
	RemoveImageOnRelease bool
}

// MongoDBOpts configures a MongoDB fixture. Zero values use the defaults
// (mongo:4.4 bound on 127.0.0.1:27017).
type MongoDBOpts struct {
	Version string
	Image   string
	Host    string
	Port    int
	// Username and Password create a root user, both or none must be set.
	Username               string
	Password               string
	ServerSelectionTimeout time.Duration
	ProbeTimeout           time.Duration
	RemoveImageOnRelease   bool
}

// RabbitMQOpts configures a RabbitMQ fixture. Zero values use the defaults
// (rabbitmq:latest bound on 127.0.0.1:5672, guest/guest, vhost /).
type RabbitMQOpts struct {
	Version              string
	Image                string
	Host                 string
	Port                 int
	User                 string
	Password             string
	VHost                string
	ProbeTimeout         time.Duration
	RemoveImageOnRelease bool
}
