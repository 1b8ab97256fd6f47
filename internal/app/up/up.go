package up

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/service/mongodb"
	"github.com/slok/fixturebox/internal/service/rabbitmq"
	"github.com/slok/fixturebox/internal/service/redis"
)

// ServiceConfig is the configuration for the up service.
type ServiceConfig struct {
	Runtime *fixture.Runtime
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Runtime == nil {
		return fmt.Errorf("runtime is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Up"})

	return nil
}

// Service brings up a fixture set and waits until all the fixtures are ready.
type Service struct {
	runtime *fixture.Runtime
	logger  log.Logger
}

// NewService creates a new up service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		runtime: cfg.Runtime,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the up request parameters.
type Request struct {
	Set model.FixtureSet
}

type handle interface {
	WaitUntilReady(ctx context.Context, opts fixture.WaitOpts) error
	Release(ctx context.Context) error
	SandboxID() string
}

type running struct {
	handle   handle
	endpoint model.Endpoint
}

// Session are the running fixtures of a set. It must be released.
type Session struct {
	fixtures []running
	logger   log.Logger
}

// Endpoints returns the endpoints of the running fixtures, in set order.
func (s *Session) Endpoints() []model.Endpoint {
	eps := make([]model.Endpoint, 0, len(s.fixtures))
	for _, f := range s.fixtures {
		eps = append(eps, f.endpoint)
	}
	return eps
}

// Release releases all the fixtures in reverse order, all of them are
// released even if some fail.
func (s *Session) Release(ctx context.Context) error {
	var errs []error
	for i := len(s.fixtures) - 1; i >= 0; i-- {
		f := s.fixtures[i]
		if err := f.handle.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("fixture %s: %w", f.endpoint.Name, err))
			continue
		}
		s.logger.Infof("Fixture %s released", f.endpoint.Name)
	}
	return errors.Join(errs...)
}

// Run acquires every fixture of the set in order and waits until each one is
// ready. If any fixture fails the already acquired ones are released.
func (s *Service) Run(ctx context.Context, req Request) (_ *Session, err error) {
	if len(req.Set.Fixtures) == 0 {
		return nil, fmt.Errorf("fixture set is empty: %w", model.ErrNotValid)
	}

	session := &Session{logger: s.logger}
	defer func() {
		if err != nil {
			if rerr := session.Release(context.WithoutCancel(ctx)); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
	}()

	for _, spec := range req.Set.Fixtures {
		logger := s.logger.WithValues(log.Kv{"fixture": spec.Name, "service": spec.Service})

		h, ep, err := s.acquire(ctx, spec, logger)
		if err != nil {
			return nil, fmt.Errorf("could not acquire fixture %s: %w", spec.Name, err)
		}
		ep.Name = spec.Name
		ep.Service = spec.Service
		ep.SandboxID = h.SandboxID()
		session.fixtures = append(session.fixtures, running{handle: h, endpoint: ep})

		logger.Infof("Waiting for fixture to be ready")
		err = h.WaitUntilReady(ctx, fixture.WaitOpts{
			PollInterval: spec.PollInterval,
			Timeout:      spec.ReadyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", spec.Name, err)
		}
		logger.Infof("Fixture ready on %s", ep.Address)
	}

	return session, nil
}

func (s *Service) acquire(ctx context.Context, spec model.FixtureSpec, logger log.Logger) (handle, model.Endpoint, error) {
	switch spec.Service {
	case model.ServiceKindRedis:
		r, err := redis.New(ctx, redis.Config{
			Runtime:              s.runtime,
			Version:              spec.Version,
			Image:                spec.Image,
			Host:                 spec.Host,
			Port:                 spec.Port,
			Password:             spec.Password,
			RemoveImageOnRelease: spec.RemoveImage,
			Logger:               logger,
		})
		if err != nil {
			return nil, model.Endpoint{}, err
		}
		return r, model.Endpoint{Address: r.Addr(), URI: "redis://" + r.Addr()}, nil

	case model.ServiceKindMongoDB:
		m, err := mongodb.New(ctx, mongodb.Config{
			Runtime:              s.runtime,
			Version:              spec.Version,
			Image:                spec.Image,
			Host:                 spec.Host,
			Port:                 spec.Port,
			Username:             spec.Username,
			Password:             spec.Password,
			RemoveImageOnRelease: spec.RemoveImage,
			Logger:               logger,
		})
		if err != nil {
			return nil, model.Endpoint{}, err
		}
		addr, _ := m.HostAddress(mongodb.ContainerPort)
		return m, model.Endpoint{Address: addr, URI: m.URI()}, nil

	case model.ServiceKindRabbitMQ:
		r, err := rabbitmq.New(ctx, rabbitmq.Config{
			Runtime:              s.runtime,
			Version:              spec.Version,
			Image:                spec.Image,
			Host:                 spec.Host,
			Port:                 spec.Port,
			User:                 spec.Username,
			Password:             spec.Password,
			RemoveImageOnRelease: spec.RemoveImage,
			Logger:               logger,
		})
		if err != nil {
			return nil, model.Endpoint{}, err
		}
		addr, _ := r.HostAddress(rabbitmq.ContainerPort)
		return r, model.Endpoint{Address: addr, URI: r.URL()}, nil

	case model.ServiceKindGeneric, "":
		f, err := fixture.New(ctx, fixture.Config{
			Runtime: s.runtime,
			Sandbox: model.SandboxConfig{
				Image:                spec.Image,
				PortBindings:         spec.PortBindings,
				Env:                  spec.Env,
				Cmd:                  spec.Cmd,
				RemoveImageOnRelease: spec.RemoveImage,
			},
			Logger: logger,
		})
		if err != nil {
			return nil, model.Endpoint{}, err
		}
		ep := model.Endpoint{Address: "-"}
		if pbs := f.PortBindings(); len(pbs) > 0 {
			ep.Address = pbs[0].HostAddress()
		}
		return f, ep, nil
	}

	return nil, model.Endpoint{}, fmt.Errorf("unknown service %q: %w", spec.Service, model.ErrNotValid)
}
