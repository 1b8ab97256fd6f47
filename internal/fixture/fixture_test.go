package fixture_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/sandbox"
	"github.com/slok/fixturebox/internal/sandbox/fake"
	"github.com/slok/fixturebox/internal/sandbox/sandboxmock"
	"github.com/slok/fixturebox/internal/storage"
	"github.com/slok/fixturebox/internal/storage/memory"
)

func newRuntime(t *testing.T, eng sandbox.Engine, repo storage.Repository) *fixture.Runtime {
	t.Helper()
	rt, err := fixture.NewRuntime(context.Background(), fixture.RuntimeConfig{
		Engine:     eng,
		Repository: repo,
		Logger:     log.Noop,
	})
	require.NoError(t, err)
	return rt
}

func newMockRuntime(t *testing.T) (*fixture.Runtime, *sandboxmock.MockEngine) {
	t.Helper()
	m := sandboxmock.NewMockEngine(t)
	m.On("ListImages", mock.Anything, "").Once().Return([]model.Image{}, nil)
	return newRuntime(t, m, nil), m
}

func newFakeFixture(t *testing.T, cfg fixture.Config) (*fixture.Fixture, *fake.Engine) {
	t.Helper()
	eng, err := fake.NewEngine(fake.EngineConfig{})
	require.NoError(t, err)

	cfg.Runtime = newRuntime(t, eng, nil)
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "alpine:3.8"
	}
	f, err := fixture.New(context.Background(), cfg)
	require.NoError(t, err)
	return f, eng
}

func TestNew(t *testing.T) {
	tests := map[string]struct {
		sandbox  model.SandboxConfig
		mock     func(m *sandboxmock.MockEngine)
		expErr   bool
		expErrIs error
	}{
		"A valid config should acquire a sandbox.": {
			sandbox: model.SandboxConfig{
				Image:        "redis:5.0.7",
				PortBindings: []model.PortBinding{{ContainerPort: 6379, HostPort: 6379}},
			},
			mock: func(m *sandboxmock.MockEngine) {
				m.On("Create", mock.Anything, model.SandboxConfig{
					Image:        "redis:5.0.7",
					PortBindings: []model.PortBinding{{ContainerPort: 6379, HostPort: 6379}},
				}).Once().Return("sb-1", nil)
			},
		},

		"An invalid config should not reach the engine.": {
			sandbox:  model.SandboxConfig{},
			mock:     func(m *sandboxmock.MockEngine) {},
			expErr:   true,
			expErrIs: model.ErrNotValid,
		},

		"A failed acquisition should propagate the engine error and leave nothing to release.": {
			sandbox: model.SandboxConfig{Image: "redis:5.0.7"},
			mock: func(m *sandboxmock.MockEngine) {
				m.On("Create", mock.Anything, mock.Anything).Once().Return("", fmt.Errorf("pull access denied"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			rt, m := newMockRuntime(t)
			test.mock(m)

			f, err := fixture.New(context.Background(), fixture.Config{Runtime: rt, Sandbox: test.sandbox})

			if test.expErr {
				assert.Error(err)
				assert.Nil(f)
				if test.expErrIs != nil {
					assert.True(errors.Is(err, test.expErrIs))
				}
			} else if assert.NoError(err) {
				assert.Equal("sb-1", f.SandboxID())
				assert.Equal("redis:5.0.7", f.Image())
				addr, ok := f.HostAddress(6379)
				assert.True(ok)
				assert.Equal("127.0.0.1:6379", addr)
			}
		})
	}
}

func TestRelease(t *testing.T) {
	var errUnexpected = fmt.Errorf("something")

	tests := map[string]struct {
		removeImage bool
		mock        func(m *sandboxmock.MockEngine, calls *[]string)
		expCalls    []string
		expErr      bool
	}{
		"Release without image removal should never delete the image.": {
			removeImage: false,
			mock: func(m *sandboxmock.MockEngine, calls *[]string) {
				m.On("ImageOf", mock.Anything, "sb-1").Once().Run(track(calls, "image_of")).Return("sha256:1", nil)
				m.On("Stop", mock.Anything, "sb-1").Once().Run(track(calls, "stop")).Return(nil)
				m.On("Remove", mock.Anything, "sb-1").Once().Run(track(calls, "remove")).Return(nil)
			},
			expCalls: []string{"image_of", "stop", "remove"},
		},

		"Release with image removal should read the image before removing the sandbox and delete it after.": {
			removeImage: true,
			mock: func(m *sandboxmock.MockEngine, calls *[]string) {
				m.On("ImageOf", mock.Anything, "sb-1").Once().Run(track(calls, "image_of")).Return("sha256:1", nil)
				m.On("Stop", mock.Anything, "sb-1").Once().Run(track(calls, "stop")).Return(nil)
				m.On("Remove", mock.Anything, "sb-1").Once().Run(track(calls, "remove")).Return(nil)
				m.On("RemoveImage", mock.Anything, "sha256:1").Once().Run(track(calls, "remove_image")).Return(nil)
			},
			expCalls: []string{"image_of", "stop", "remove", "remove_image"},
		},

		"An image still in use should be ignored.": {
			removeImage: true,
			mock: func(m *sandboxmock.MockEngine, calls *[]string) {
				m.On("ImageOf", mock.Anything, "sb-1").Once().Run(track(calls, "image_of")).Return("sha256:1", nil)
				m.On("Stop", mock.Anything, "sb-1").Once().Run(track(calls, "stop")).Return(nil)
				m.On("Remove", mock.Anything, "sb-1").Once().Run(track(calls, "remove")).Return(nil)
				m.On("RemoveImage", mock.Anything, "sha256:1").Once().Run(track(calls, "remove_image")).Return(fmt.Errorf("conflict: %w", model.ErrImageConflict))
			},
			expCalls: []string{"image_of", "stop", "remove", "remove_image"},
		},

		"Other image removal errors should fail the teardown.": {
			removeImage: true,
			mock: func(m *sandboxmock.MockEngine, calls *[]string) {
				m.On("ImageOf", mock.Anything, "sb-1").Once().Run(track(calls, "image_of")).Return("sha256:1", nil)
				m.On("Stop", mock.Anything, "sb-1").Once().Run(track(calls, "stop")).Return(nil)
				m.On("Remove", mock.Anything, "sb-1").Once().Run(track(calls, "remove")).Return(nil)
				m.On("RemoveImage", mock.Anything, "sha256:1").Once().Run(track(calls, "remove_image")).Return(errUnexpected)
			},
			expCalls: []string{"image_of", "stop", "remove", "remove_image"},
			expErr:   true,
		},

		"A failed stop should still remove the sandbox and fail the teardown.": {
			removeImage: false,
			mock: func(m *sandboxmock.MockEngine, calls *[]string) {
				m.On("ImageOf", mock.Anything, "sb-1").Once().Run(track(calls, "image_of")).Return("sha256:1", nil)
				m.On("Stop", mock.Anything, "sb-1").Once().Run(track(calls, "stop")).Return(errUnexpected)
				m.On("Remove", mock.Anything, "sb-1").Once().Run(track(calls, "remove")).Return(nil)
			},
			expCalls: []string{"image_of", "stop", "remove"},
			expErr:   true,
		},

		"A failed image read with image removal should still remove the sandbox but not the image.": {
			removeImage: true,
			mock: func(m *sandboxmock.MockEngine, calls *[]string) {
				m.On("ImageOf", mock.Anything, "sb-1").Once().Run(track(calls, "image_of")).Return("", errUnexpected)
				m.On("Stop", mock.Anything, "sb-1").Once().Run(track(calls, "stop")).Return(nil)
				m.On("Remove", mock.Anything, "sb-1").Once().Run(track(calls, "remove")).Return(nil)
			},
			expCalls: []string{"image_of", "stop", "remove"},
			expErr:   true,
		},

		"An already gone sandbox with image removal should not fail.": {
			removeImage: true,
			mock: func(m *sandboxmock.MockEngine, calls *[]string) {
				m.On("ImageOf", mock.Anything, "sb-1").Once().Run(track(calls, "image_of")).Return("", fmt.Errorf("sandbox sb-1: %w", model.ErrNotFound))
				m.On("Stop", mock.Anything, "sb-1").Once().Run(track(calls, "stop")).Return(nil)
				m.On("Remove", mock.Anything, "sb-1").Once().Run(track(calls, "remove")).Return(nil)
			},
			expCalls: []string{"image_of", "stop", "remove"},
		},

		"A failed image read without image removal should not fail.": {
			removeImage: false,
			mock: func(m *sandboxmock.MockEngine, calls *[]string) {
				m.On("ImageOf", mock.Anything, "sb-1").Once().Run(track(calls, "image_of")).Return("", errUnexpected)
				m.On("Stop", mock.Anything, "sb-1").Once().Run(track(calls, "stop")).Return(nil)
				m.On("Remove", mock.Anything, "sb-1").Once().Run(track(calls, "remove")).Return(nil)
			},
			expCalls: []string{"image_of", "stop", "remove"},
		},

		"A failed removal should not try to delete the image.": {
			removeImage: true,
			mock: func(m *sandboxmock.MockEngine, calls *[]string) {
				m.On("ImageOf", mock.Anything, "sb-1").Once().Run(track(calls, "image_of")).Return("sha256:1", nil)
				m.On("Stop", mock.Anything, "sb-1").Once().Run(track(calls, "stop")).Return(nil)
				m.On("Remove", mock.Anything, "sb-1").Once().Run(track(calls, "remove")).Return(errUnexpected)
			},
			expCalls: []string{"image_of", "stop", "remove"},
			expErr:   true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			rt, m := newMockRuntime(t)
			m.On("Create", mock.Anything, mock.Anything).Once().Return("sb-1", nil)
			var calls []string
			test.mock(m, &calls)

			f, err := fixture.New(ctx, fixture.Config{
				Runtime: rt,
				Sandbox: model.SandboxConfig{Image: "alpine:3.8", RemoveImageOnRelease: test.removeImage},
			})
			require.NoError(err)

			err = f.Release(ctx)
			if test.expErr {
				assert.True(errors.Is(err, model.ErrTeardown), "got: %v", err)
			} else {
				assert.NoError(err)
			}
			assert.Equal(test.expCalls, calls)
			assert.Empty(f.SandboxID())

			// Release only runs once.
			assert.NoError(f.Release(ctx))
			assert.Equal(test.expCalls, calls)
		})
	}
}

func track(calls *[]string, name string) func(mock.Arguments) {
	return func(mock.Arguments) { *calls = append(*calls, name) }
}

func TestReleasedFixtureCantBeUsed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f, eng := newFakeFixture(t, fixture.Config{})
	require.NoError(t, f.Release(ctx))

	assert.Empty(eng.Running())
	assert.False(f.Ready(ctx))
	assert.True(errors.Is(f.Reset(ctx), model.ErrReleased))
	assert.True(errors.Is(f.WaitUntilReady(ctx, fixture.WaitOpts{}), model.ErrReleased))
}

func TestReset(t *testing.T) {
	tests := map[string]struct {
		resetter fixture.Resetter
		expErr   bool
	}{
		"Without resetter reset should be a no-op.": {},

		"The resetter should be called.": {
			resetter: fixture.ResetterFunc(func(ctx context.Context) error { return nil }),
		},

		"Resetter errors should be returned.": {
			resetter: fixture.ResetterFunc(func(ctx context.Context) error { return fmt.Errorf("something") }),
			expErr:   true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			f, _ := newFakeFixture(t, fixture.Config{Resetter: test.resetter})
			defer f.Release(context.Background())

			err := f.Reset(context.Background())
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWaitUntilReady(t *testing.T) {
	tests := map[string]struct {
		ready      func(call int) bool
		status     bool
		opts       fixture.WaitOpts
		ctxTimeout time.Duration
		expErr     error
		expCalls   int
		minElapsed time.Duration
		maxElapsed time.Duration
	}{
		"A ready fixture should return without sleeping.": {
			ready:      func(int) bool { return true },
			status:     true,
			opts:       fixture.WaitOpts{PollInterval: time.Hour, Timeout: time.Hour},
			expCalls:   1,
			maxElapsed: time.Second,
		},

		"A fixture that gets ready should return once it's ready.": {
			ready:      func(call int) bool { return call >= 3 },
			status:     true,
			opts:       fixture.WaitOpts{PollInterval: 10 * time.Millisecond, Timeout: 10 * time.Second},
			expCalls:   3,
			maxElapsed: 5 * time.Second,
		},

		"A never ready fixture should time out without overshooting the timeout.": {
			ready:      func(int) bool { return false },
			status:     true,
			opts:       fixture.WaitOpts{PollInterval: 20 * time.Millisecond, Timeout: 100 * time.Millisecond},
			expErr:     model.ErrReadyTimeout,
			minElapsed: 100 * time.Millisecond,
			maxElapsed: 100*time.Millisecond + 150*time.Millisecond,
		},

		"A poll interval bigger than the timeout should be clamped to the timeout.": {
			ready:      func(int) bool { return false },
			status:     true,
			opts:       fixture.WaitOpts{PollInterval: time.Hour, Timeout: 50 * time.Millisecond},
			expErr:     model.ErrReadyTimeout,
			expCalls:   2,
			minElapsed: 50 * time.Millisecond,
			maxElapsed: time.Second,
		},

		"A false status latch should force a timeout even with a ready service.": {
			ready:      func(int) bool { return true },
			status:     false,
			opts:       fixture.WaitOpts{PollInterval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond},
			expErr:     model.ErrReadyTimeout,
			minElapsed: 50 * time.Millisecond,
			maxElapsed: time.Second,
		},

		"A cancelled context should stop waiting.": {
			ready:      func(int) bool { return false },
			status:     true,
			opts:       fixture.WaitOpts{PollInterval: time.Hour, Timeout: time.Hour},
			ctxTimeout: 50 * time.Millisecond,
			expErr:     context.DeadlineExceeded,
			maxElapsed: time.Second,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			calls := 0
			prober := fixture.ProberFunc(func(ctx context.Context) bool {
				calls++
				return test.ready(calls)
			})
			f, _ := newFakeFixture(t, fixture.Config{Prober: prober})
			defer f.Release(context.Background())
			f.SetStatus(test.status)

			ctx := context.Background()
			if test.ctxTimeout != 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, test.ctxTimeout)
				defer cancel()
			}

			start := time.Now()
			err := f.WaitUntilReady(ctx, test.opts)
			elapsed := time.Since(start)

			if test.expErr != nil {
				assert.True(errors.Is(err, test.expErr), "got: %v", err)
			} else {
				assert.NoError(err)
			}
			if test.expCalls != 0 {
				assert.Equal(test.expCalls, calls)
			}
			assert.GreaterOrEqual(elapsed, test.minElapsed)
			assert.Less(elapsed, test.maxElapsed)
		})
	}
}

func TestDefaultReadyUsesStatusLatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f, _ := newFakeFixture(t, fixture.Config{})
	defer f.Release(ctx)

	assert.True(f.Ready(ctx))
	assert.NoError(f.WaitUntilReady(ctx, fixture.WaitOpts{Timeout: 10 * time.Second}))

	f.SetStatus(false)
	assert.False(f.Ready(ctx))
	err := f.WaitUntilReady(ctx, fixture.WaitOpts{PollInterval: 10 * time.Millisecond, Timeout: 30 * time.Millisecond})
	assert.True(errors.Is(err, model.ErrReadyTimeout))
}

func TestLedger(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()

	eng, err := fake.NewEngine(fake.EngineConfig{})
	require.NoError(err)
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	rt := newRuntime(t, eng, repo)

	f, err := fixture.New(ctx, fixture.Config{
		Runtime: rt,
		Service: model.ServiceKindRedis,
		Sandbox: model.SandboxConfig{Image: "redis:5.0.7"},
	})
	require.NoError(err)

	records, err := repo.ListFixtures(ctx)
	require.NoError(err)
	require.Len(records, 1)
	assert.Equal(f.SandboxID(), records[0].SandboxID)
	assert.Equal(model.ServiceKindRedis, records[0].Service)
	assert.Equal("redis:5.0.7", records[0].Config.Image)

	require.NoError(f.Release(ctx))

	records, err = repo.ListFixtures(ctx)
	require.NoError(err)
	assert.Empty(records)
}

func TestRun(t *testing.T) {
	tests := map[string]struct {
		ready  bool
		fn     func(ctx context.Context, f *fixture.Fixture) error
		expErr error
		expFn  bool
	}{
		"A ready fixture should be passed to the function and released after.": {
			ready: true,
			fn:    func(ctx context.Context, f *fixture.Fixture) error { return nil },
			expFn: true,
		},

		"Function errors should be returned after releasing.": {
			ready:  true,
			fn:     func(ctx context.Context, f *fixture.Fixture) error { return model.ErrNotValid },
			expErr: model.ErrNotValid,
			expFn:  true,
		},

		"A not ready fixture should be released without calling the function.": {
			ready:  false,
			fn:     func(ctx context.Context, f *fixture.Fixture) error { return nil },
			expErr: model.ErrReadyTimeout,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			eng, err := fake.NewEngine(fake.EngineConfig{})
			require.NoError(t, err)
			rt := newRuntime(t, eng, nil)

			called := false
			err = fixture.Run(context.Background(), fixture.Config{
				Runtime: rt,
				Sandbox: model.SandboxConfig{Image: "alpine:3.8"},
				Prober:  fixture.ProberFunc(func(context.Context) bool { return test.ready }),
			}, fixture.WaitOpts{PollInterval: 10 * time.Millisecond, Timeout: 30 * time.Millisecond},
				func(ctx context.Context, f *fixture.Fixture) error {
					called = true
					assert.NotEmpty(f.SandboxID())
					return test.fn(ctx, f)
				})

			if test.expErr != nil {
				assert.True(errors.Is(err, test.expErr), "got: %v", err)
			} else {
				assert.NoError(err)
			}
			assert.Equal(test.expFn, called)
			assert.Empty(eng.Running())
		})
	}
}

func TestLedgerKeepsLeakedFixtures(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m := sandboxmock.NewMockEngine(t)
	m.On("ListImages", mock.Anything, "").Once().Return([]model.Image{}, nil)
	m.On("Create", mock.Anything, mock.Anything).Once().Return("sb-1", nil)
	m.On("ImageOf", mock.Anything, "sb-1").Once().Return("sha256:1", nil)
	m.On("Stop", mock.Anything, "sb-1").Once().Return(nil)
	m.On("Remove", mock.Anything, "sb-1").Once().Return(fmt.Errorf("device or resource busy"))

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	rt := newRuntime(t, m, repo)

	f, err := fixture.New(ctx, fixture.Config{Runtime: rt, Sandbox: model.SandboxConfig{Image: "alpine:3.8"}})
	require.NoError(err)

	err = f.Release(ctx)
	require.True(errors.Is(err, model.ErrTeardown))

	records, err := repo.ListFixtures(ctx)
	require.NoError(err)
	require.Len(records, 1)
	assert.Equal(t, "sb-1", records[0].SandboxID)
}
