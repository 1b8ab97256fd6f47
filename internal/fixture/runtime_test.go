package fixture_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/sandbox/sandboxmock"
)

func TestNewRuntime(t *testing.T) {
	tests := map[string]struct {
		mock   func(m *sandboxmock.MockEngine)
		expErr error
	}{
		"An available engine should return a runtime.": {
			mock: func(m *sandboxmock.MockEngine) {
				m.On("ListImages", mock.Anything, "").Once().Return([]model.Image{}, nil)
			},
		},

		"An unavailable engine should fail.": {
			mock: func(m *sandboxmock.MockEngine) {
				m.On("ListImages", mock.Anything, "").Once().Return(nil, fmt.Errorf("cannot connect to the Docker daemon"))
			},
			expErr: model.ErrEngineUnavailable,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := sandboxmock.NewMockEngine(t)
			test.mock(m)

			rt, err := fixture.NewRuntime(context.Background(), fixture.RuntimeConfig{Engine: m})
			if test.expErr != nil {
				assert.True(t, errors.Is(err, test.expErr), "got: %v", err)
				assert.Nil(t, rt)
			} else if assert.NoError(t, err) {
				assert.Equal(t, m, rt.Engine())
			}
		})
	}
}

func TestInitChecksOnce(t *testing.T) {
	require := require.New(t)
	fixture.Shutdown()
	t.Cleanup(fixture.Shutdown)
	ctx := context.Background()

	// The first check fails and the failure is kept.
	failing := sandboxmock.NewMockEngine(t)
	failing.On("ListImages", mock.Anything, "").Once().Return(nil, fmt.Errorf("no daemon"))
	_, err := fixture.Init(ctx, fixture.RuntimeConfig{Engine: failing})
	require.True(errors.Is(err, model.ErrEngineUnavailable))

	working := sandboxmock.NewMockEngine(t)
	_, err = fixture.Init(ctx, fixture.RuntimeConfig{Engine: working})
	require.True(errors.Is(err, model.ErrEngineUnavailable))

	// Fixtures without runtime use the process wide one.
	_, err = fixture.New(ctx, fixture.Config{Sandbox: model.SandboxConfig{Image: "alpine:3.8"}})
	require.True(errors.Is(err, model.ErrEngineUnavailable))

	// After shutdown the engine is checked again.
	fixture.Shutdown()
	working.On("ListImages", mock.Anything, "").Once().Return([]model.Image{}, nil)
	rt1, err := fixture.Init(ctx, fixture.RuntimeConfig{Engine: working})
	require.NoError(err)

	rt2, err := fixture.Default(ctx)
	require.NoError(err)
	require.Same(rt1, rt2)
}
