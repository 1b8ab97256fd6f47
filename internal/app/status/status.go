package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/sandbox"
	"github.com/slok/fixturebox/internal/storage"
)

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Engine     sandbox.Engine
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}

	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.status.Service"})

	return nil
}

// Service retrieves a ledger record and checks its sandbox still exists.
type Service struct {
	engine sandbox.Engine
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		engine: cfg.Engine,
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	// NameOrID is the fixture ID or name.
	NameOrID string
}

// Run retrieves the status of a fixture by ID or name.
// Names are not unique on the ledger, a name matching more than one fixture is not valid.
func (s *Service) Run(ctx context.Context, req Request) (*model.FixtureStatus, error) {
	f, err := s.getFixture(ctx, req.NameOrID)
	if err != nil {
		return nil, err
	}

	present := true
	if _, err := s.engine.ImageOf(ctx, f.SandboxID); err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("could not check sandbox %s: %w", f.SandboxID, err)
		}
		present = false
	}

	return &model.FixtureStatus{Fixture: *f, SandboxPresent: present}, nil
}

func (s *Service) getFixture(ctx context.Context, nameOrID string) (*model.Fixture, error) {
	if _, err := ulid.ParseStrict(nameOrID); err == nil {
		s.logger.Debugf("Getting fixture by ID: %s", nameOrID)
		f, err := s.repo.GetFixture(ctx, nameOrID)
		if err != nil {
			return nil, fmt.Errorf("could not get fixture %s: %w", nameOrID, err)
		}
		return f, nil
	}

	s.logger.Debugf("Getting fixture by name: %s", nameOrID)
	fixtures, err := s.repo.ListFixtures(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list fixtures: %w", err)
	}

	var found []model.Fixture
	for _, f := range fixtures {
		if f.Name == nameOrID {
			found = append(found, f)
		}
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("fixture not found: %s: %w", nameOrID, model.ErrNotFound)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%d fixtures named %s, use the ID: %w", len(found), nameOrID, model.ErrNotValid)
	}
}
