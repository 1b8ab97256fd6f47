package list

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/storage"
)

// ServiceConfig is the configuration for the list service.
type ServiceConfig struct {
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service lists the fixture ledger.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// ServiceFilter only shows fixtures of this service kind.
	ServiceFilter *model.ServiceKind
	// OlderThan only shows fixtures created at least this long ago.
	OlderThan time.Duration
}

// Run lists the ledger records, newest first.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Fixture, error) {
	s.logger.Debugf("listing fixtures with service filter: %v, older than: %s", req.ServiceFilter, req.OlderThan)

	fixtures, err := s.repo.ListFixtures(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list fixtures: %w", err)
	}

	fixtures = Filter(fixtures, req.ServiceFilter, req.OlderThan, time.Now())

	s.logger.Debugf("found %d fixtures", len(fixtures))
	return fixtures, nil
}

// Filter returns the fixtures matching the service and age filters.
func Filter(fixtures []model.Fixture, service *model.ServiceKind, olderThan time.Duration, now time.Time) []model.Fixture {
	if service == nil && olderThan <= 0 {
		return fixtures
	}

	filtered := make([]model.Fixture, 0, len(fixtures))
	for _, f := range fixtures {
		if service != nil && f.Service != *service {
			continue
		}
		if olderThan > 0 && now.Sub(f.CreatedAt) < olderThan {
			continue
		}
		filtered = append(filtered, f)
	}
	return filtered
}
