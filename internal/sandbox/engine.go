package sandbox

import (
	"context"

	"github.com/slok/fixturebox/internal/model"
)

//go:generate mockery --case underscore --output sandboxmock --outpkg sandboxmock --name Engine

// Engine is the external sandbox engine the fixtures run on.
// The engine is the system of record of the sandbox process state, fixtures
// only reference sandboxes by their engine ID.
type Engine interface {
	// Check performs preflight checks and returns the results.
	Check(ctx context.Context) []model.CheckResult

	// ListImages lists the local images, if reference is not empty only the
	// images matching the reference are returned.
	// It's also used as the engine availability probe.
	ListImages(ctx context.Context, reference string) ([]model.Image, error)

	// Create creates and starts a detached sandbox, returns the sandbox ID.
	Create(ctx context.Context, cfg model.SandboxConfig) (id string, err error)

	// Stop stops a sandbox, stopping an already stopped sandbox is not an error.
	Stop(ctx context.Context, id string) error

	// Remove force removes a sandbox together with its attached volumes.
	Remove(ctx context.Context, id string) error

	// ImageOf returns the image ID the sandbox is running.
	ImageOf(ctx context.Context, id string) (imageID string, err error)

	// RemoveImage removes an image without forcing it. If other sandboxes
	// reference the image it returns model.ErrImageConflict.
	RemoveImage(ctx context.Context, imageID string) error
}
