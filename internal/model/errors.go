package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrEngineUnavailable is returned when the sandbox engine can't be reached.
	// It is only returned when the engine runtime is initialized.
	ErrEngineUnavailable = errors.New("sandbox engine not available, ensure it is correctly configured and running")
	// ErrCapabilityUnavailable is returned when a service adapter is missing the
	// protocol client it needs to probe or reset the service.
	ErrCapabilityUnavailable = errors.New("service capability not available")
	// ErrReadyTimeout is returned when a fixture didn't become ready in time.
	ErrReadyTimeout = errors.New("fixture not ready before timeout")
	// ErrTeardown is returned when a fixture could not be released.
	ErrTeardown = errors.New("fixture teardown failed")
	// ErrImageConflict is returned by engines when an image can't be removed
	// because other sandboxes still reference it.
	ErrImageConflict = errors.New("image in use")
	// ErrReleased is returned when a released fixture is used.
	ErrReleased = errors.New("fixture already released")
)
