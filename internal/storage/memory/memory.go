package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	fixtures map[string]model.Fixture
	mu       sync.RWMutex
	logger   log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		fixtures: make(map[string]model.Fixture),
		logger:   cfg.Logger,
	}, nil
}

// CreateFixture stores a new fixture record.
func (r *Repository) CreateFixture(ctx context.Context, f model.Fixture) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.fixtures[f.ID]; ok {
		return fmt.Errorf("fixture with id %s: %w", f.ID, model.ErrAlreadyExists)
	}

	r.fixtures[f.ID] = copyFixture(f)
	r.logger.Debugf("Created fixture in repository: %s", f.ID)

	return nil
}

// GetFixture retrieves a fixture record by ID.
func (r *Repository) GetFixture(ctx context.Context, id string) (*model.Fixture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fixtures[id]
	if !ok {
		return nil, fmt.Errorf("fixture %s: %w", id, model.ErrNotFound)
	}

	fixtureCopy := copyFixture(f)
	return &fixtureCopy, nil
}

// ListFixtures returns all fixture records, newest first.
func (r *Repository) ListFixtures(ctx context.Context) ([]model.Fixture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fixtures := make([]model.Fixture, 0, len(r.fixtures))
	for _, f := range r.fixtures {
		fixtures = append(fixtures, copyFixture(f))
	}
	sort.Slice(fixtures, func(i, j int) bool {
		if fixtures[i].CreatedAt.Equal(fixtures[j].CreatedAt) {
			return fixtures[i].ID > fixtures[j].ID
		}
		return fixtures[i].CreatedAt.After(fixtures[j].CreatedAt)
	})

	return fixtures, nil
}

// DeleteFixture deletes a fixture record.
func (r *Repository) DeleteFixture(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.fixtures[id]; !ok {
		return fmt.Errorf("fixture %s: %w", id, model.ErrNotFound)
	}

	delete(r.fixtures, id)
	r.logger.Debugf("Deleted fixture from repository: %s", id)

	return nil
}

func copyFixture(f model.Fixture) model.Fixture {
	f.Config.PortBindings = append([]model.PortBinding(nil), f.Config.PortBindings...)
	f.Config.Cmd = append([]string(nil), f.Config.Cmd...)
	if f.Config.Env != nil {
		env := make(map[string]string, len(f.Config.Env))
		for k, v := range f.Config.Env {
			env[k] = v
		}
		f.Config.Env = env
	}
	return f
}
