package model

import (
	"fmt"
	"time"
)

// ServiceKind is the kind of service a fixture runs.
type ServiceKind string

const (
	// ServiceKindGeneric is a fixture without a service adapter.
	ServiceKindGeneric ServiceKind = "generic"
	// ServiceKindMongoDB is a MongoDB document store fixture.
	ServiceKindMongoDB ServiceKind = "mongodb"
	// ServiceKindRedis is a Redis key-value store fixture.
	ServiceKindRedis ServiceKind = "redis"
	// ServiceKindRabbitMQ is a RabbitMQ message broker fixture.
	ServiceKindRabbitMQ ServiceKind = "rabbitmq"
)

// ParseServiceKind parses a service kind name.
func ParseServiceKind(s string) (ServiceKind, error) {
	switch k := ServiceKind(s); k {
	case ServiceKindGeneric, ServiceKindMongoDB, ServiceKindRedis, ServiceKindRabbitMQ:
		return k, nil
	}
	return "", fmt.Errorf("unknown service %q: %w", s, ErrNotValid)
}

// Fixture is the ledger record of an acquired sandbox.
// A record exists from a successful acquisition until a successful release,
// records that outlive their process are leaked sandboxes.
type Fixture struct {
	ID        string
	Name      string
	Service   ServiceKind
	SandboxID string
	Config    SandboxConfig
	CreatedAt time.Time
}

// Image is an image known by the sandbox engine.
type Image struct {
	ID   string
	Tags []string
	Size int64
}

// FixtureSpec describes a fixture to acquire, used by fixture sets.
type FixtureSpec struct {
	Name    string
	Service ServiceKind
	// Version is the service image tag, ignored when Image is set.
	Version string
	Image   string
	// Host and Port are the host address of service fixtures.
	Host string
	Port int
	// PortBindings are the bindings of generic fixtures.
	PortBindings []PortBinding
	Env          map[string]string
	Cmd          []string
	Username     string
	Password     string
	RemoveImage  bool
	PollInterval time.Duration
	ReadyTimeout time.Duration
}

// FixtureSet is a group of fixtures acquired and released together.
type FixtureSet struct {
	Fixtures []FixtureSpec
}

// Endpoint is where a running fixture can be reached from the host.
type Endpoint struct {
	Name      string
	Service   ServiceKind
	SandboxID string
	// Address is the `host:port` of the main port.
	Address string
	// URI is the client connection string, empty when the service has none.
	URI string
}

// FixtureStatus is a ledger record with the state of its sandbox on the engine.
type FixtureStatus struct {
	Fixture Fixture
	// SandboxPresent is false when the sandbox is gone but the record remains.
	SandboxPresent bool
}
