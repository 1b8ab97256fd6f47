package lib

import (
	"context"
	"testing"
)

// Handle is a fixture that can be waited and released.
type Handle interface {
	WaitUntilReady(ctx context.Context, opts WaitOpts) error
	Release(ctx context.Context) error
}

// Setup acquires a fixture with acquire, waits until it's ready and registers
// its release on t.Cleanup. Any failure stops the test.
func Setup[H Handle](t testing.TB, acquire func(ctx context.Context) (H, error), opts WaitOpts) H {
	t.Helper()

	ctx := context.Background()
	h, err := acquire(ctx)
	if err != nil {
		t.Fatalf("could not acquire fixture: %v", err)
	}

	t.Cleanup(func() {
		if err := h.Release(ctx); err != nil {
			t.Errorf("could not release fixture: %v", err)
		}
	})

	if err := h.WaitUntilReady(ctx, opts); err != nil {
		t.Fatalf("fixture not ready: %v", err)
	}

	return h
}
