package prune

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/fixturebox/internal/app/list"
	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/sandbox"
	"github.com/slok/fixturebox/internal/storage"
)

// ServiceConfig is the configuration for the prune service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Prune"})

	return nil
}

// Service destroys the sandboxes of ledger records and deletes the records.
// The ledger can't tell a leaked fixture from one a running test still owns,
// use OlderThan to only prune the old ones.
type Service struct {
	engine sandbox.Engine
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new prune service.
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

// Request represents the prune request parameters.
type Request struct {
	// IDs are the fixture IDs to prune, all the ledger when empty.
	IDs []string
	// OlderThan only prunes fixtures created at least this long ago.
	OlderThan time.Duration
	// DryRun returns what would be pruned without pruning it.
	DryRun bool
}

// Run prunes the fixtures and returns the pruned ones. A fixture that can't be
// destroyed keeps its record and the error is returned after trying the rest.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Fixture, error) {
	fixtures, err := s.selectFixtures(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.DryRun {
		return fixtures, nil
	}

	var pruned []model.Fixture
	var errs []error
	for _, f := range fixtures {
		logger := s.logger.WithValues(log.Kv{"fixture-id": f.ID, "sandbox-id": f.SandboxID})

		if err := fixture.Teardown(ctx, s.engine, f.SandboxID, f.Config.RemoveImageOnRelease, logger); err != nil {
			errs = append(errs, fmt.Errorf("fixture %s: %w", f.ID, err))
			continue
		}

		if err := s.repo.DeleteFixture(ctx, f.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
			errs = append(errs, fmt.Errorf("could not delete fixture %s from the ledger: %w", f.ID, err))
			continue
		}

		logger.Infof("Fixture pruned")
		pruned = append(pruned, f)
	}

	return pruned, errors.Join(errs...)
}

func (s *Service) selectFixtures(ctx context.Context, req Request) ([]model.Fixture, error) {
	var fixtures []model.Fixture
	if len(req.IDs) == 0 {
		all, err := s.repo.ListFixtures(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not list fixtures: %w", err)
		}
		fixtures = all
	} else {
		for _, id := range req.IDs {
			if _, err := ulid.ParseStrict(id); err != nil {
				return nil, fmt.Errorf("invalid fixture ID %q: %w", id, model.ErrNotValid)
			}

			f, err := s.repo.GetFixture(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("could not get fixture: %w", err)
			}
			fixtures = append(fixtures, *f)
		}
	}

	return list.Filter(fixtures, nil, req.OlderThan, time.Now()), nil
}
