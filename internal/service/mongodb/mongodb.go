package mongodb

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/probe"
)

const (
	// DefaultVersion is the default MongoDB image tag.
	DefaultVersion = "4.4"
	// ContainerPort is the port MongoDB listens on inside the sandbox.
	ContainerPort = 27017
	// DefaultServerSelectionTimeout is the time the client waits for a reachable server.
	DefaultServerSelectionTimeout = 100 * time.Millisecond
)

// Databases that belong to the server and survive a reset.
var systemDatabases = map[string]bool{
	"admin":  true,
	"local":  true,
	"config": true,
}

// Connector creates MongoDB clients.
type Connector func(ctx context.Context, opts ...*options.ClientOptions) (*mongo.Client, error)

// DefaultConnector is the connector used when the config doesn't set one.
var DefaultConnector Connector = mongo.Connect

// Config is the MongoDB fixture configuration.
type Config struct {
	Runtime *fixture.Runtime
	// Version is the `mongo` image tag, defaults to DefaultVersion.
	Version string
	// Image overrides the full image reference, Version is ignored when set.
	Image string
	// Host is the host address MongoDB is bound on, defaults to 127.0.0.1.
	Host string
	// Port is the host port MongoDB is bound on, defaults to 27017.
	Port int
	// Username and Password create a root user when set.
	Username string
	Password string
	// ServerSelectionTimeout is the client server selection timeout, defaults to 100ms.
	ServerSelectionTimeout time.Duration
	// ProbeTimeout bounds a single readiness check.
	ProbeTimeout         time.Duration
	RemoveImageOnRelease bool
	Connector            Connector
	Logger               log.Logger
}

func (c *Config) defaults() error {
	if c.Image == "" {
		if c.Version == "" {
			c.Version = DefaultVersion
		}
		c.Image = "mongo:" + c.Version
	}

	if c.Host == "" {
		c.Host = model.DefaultBindAddress
	}

	if c.Port == 0 {
		c.Port = ContainerPort
	}

	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("username and password must be set together: %w", model.ErrNotValid)
	}

	if c.ServerSelectionTimeout <= 0 {
		c.ServerSelectionTimeout = DefaultServerSelectionTimeout
	}

	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = probe.DefaultTimeout
	}

	if c.Connector == nil {
		c.Connector = DefaultConnector
	}
	if c.Connector == nil {
		return fmt.Errorf("mongodb client: %w", model.ErrCapabilityUnavailable)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "service.MongoDB"})

	return nil
}

// MongoDB is a disposable MongoDB fixture.
type MongoDB struct {
	*fixture.Fixture

	uri          string
	client       *mongo.Client
	probeTimeout time.Duration
	logger       log.Logger
}

// New acquires a MongoDB sandbox.
func New(ctx context.Context, cfg Config) (*MongoDB, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/",
	}
	env := map[string]string{}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
		env["MONGO_INITDB_ROOT_USERNAME"] = cfg.Username
		env["MONGO_INITDB_ROOT_PASSWORD"] = cfg.Password
	}

	// Connecting doesn't reach the server, it's done lazily on the first operation.
	client, err := cfg.Connector(ctx, options.Client().
		ApplyURI(u.String()).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetConnectTimeout(cfg.ProbeTimeout))
	if err != nil {
		return nil, fmt.Errorf("could not create mongodb client: %w", err)
	}

	m := &MongoDB{
		uri:          u.String(),
		client:       client,
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
	}

	f, err := fixture.New(ctx, fixture.Config{
		Runtime: cfg.Runtime,
		Service: model.ServiceKindMongoDB,
		Sandbox: model.SandboxConfig{
			Image: cfg.Image,
			PortBindings: []model.PortBinding{
				{ContainerPort: ContainerPort, HostIP: cfg.Host, HostPort: cfg.Port},
			},
			Env:                  env,
			RemoveImageOnRelease: cfg.RemoveImageOnRelease,
		},
		Prober:   fixture.ProberFunc(m.ready),
		Resetter: fixture.ResetterFunc(m.reset),
		Logger:   cfg.Logger,
	})
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	m.Fixture = f

	return m, nil
}

// URI returns the MongoDB connection string of the fixture.
func (m *MongoDB) URI() string { return m.uri }

// Client returns the MongoDB client of the fixture, it's disconnected on release.
func (m *MongoDB) Client() *mongo.Client { return m.client }

func (m *MongoDB) ready(ctx context.Context) bool {
	return probe.Check(ctx, m.logger, m.probeTimeout, func(ctx context.Context) error {
		return m.client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Err()
	})
}

func (m *MongoDB) reset(ctx context.Context) error {
	return dropUserDatabases(ctx, clientServer{client: m.client}, m.logger)
}

// server is the part of a MongoDB server a reset needs.
type server interface {
	ListDatabaseNames(ctx context.Context) ([]string, error)
	ListCollectionNames(ctx context.Context, db string) ([]string, error)
	DropCollection(ctx context.Context, db, coll string) error
	DropDatabase(ctx context.Context, db string) error
}

type clientServer struct {
	client *mongo.Client
}

func (c clientServer) ListDatabaseNames(ctx context.Context) ([]string, error) {
	return c.client.ListDatabaseNames(ctx, bson.D{})
}

func (c clientServer) ListCollectionNames(ctx context.Context, db string) ([]string, error) {
	return c.client.Database(db).ListCollectionNames(ctx, bson.D{})
}

func (c clientServer) DropCollection(ctx context.Context, db, coll string) error {
	return c.client.Database(db).Collection(coll).Drop(ctx)
}

func (c clientServer) DropDatabase(ctx context.Context, db string) error {
	return c.client.Database(db).Drop(ctx)
}

// dropUserDatabases drops every user database. Collections are dropped one by one
// before the database so capped and view collections are removed too.
func dropUserDatabases(ctx context.Context, srv server, logger log.Logger) error {
	names, err := srv.ListDatabaseNames(ctx)
	if err != nil {
		return fmt.Errorf("could not list databases: %w", err)
	}

	for _, name := range names {
		if systemDatabases[name] {
			continue
		}

		colls, err := srv.ListCollectionNames(ctx, name)
		if err != nil {
			return fmt.Errorf("could not list collections of %s: %w", name, err)
		}
		for _, coll := range colls {
			if err := srv.DropCollection(ctx, name, coll); err != nil {
				return fmt.Errorf("could not drop collection %s.%s: %w", name, coll, err)
			}
		}

		if err := srv.DropDatabase(ctx, name); err != nil {
			return fmt.Errorf("could not drop database %s: %w", name, err)
		}
		logger.Debugf("Database %s dropped", name)
	}

	return nil
}

// Release disconnects the client and releases the sandbox.
func (m *MongoDB) Release(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Debugf("Could not disconnect client: %v", err)
	}
	return m.Fixture.Release(ctx)
}
