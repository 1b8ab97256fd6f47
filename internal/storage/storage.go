package storage

import (
	"context"

	"github.com/slok/fixturebox/internal/model"
)

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name Repository

// Repository is the fixture ledger persistence.
// It tracks acquired sandboxes so the leaked ones can be found and removed.
type Repository interface {
	CreateFixture(ctx context.Context, f model.Fixture) error
	GetFixture(ctx context.Context, id string) (*model.Fixture, error)
	ListFixtures(ctx context.Context) ([]model.Fixture, error)
	DeleteFixture(ctx context.Context, id string) error
}
