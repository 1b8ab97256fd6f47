package docker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/sandbox/docker"
)

type mockDockerClient struct {
	mock.Mock
}

func (m *mockDockerClient) Ping(ctx context.Context) (types.Ping, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Ping), args.Error(1)
}

func (m *mockDockerClient) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	args := m.Called(ctx, options)
	res, _ := args.Get(0).([]image.Summary)
	return res, args.Error(1)
}

func (m *mockDockerClient) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, refStr, options)
	res, _ := args.Get(0).(io.ReadCloser)
	return res, args.Error(1)
}

func (m *mockDockerClient) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	args := m.Called(ctx, imageID, options)
	res, _ := args.Get(0).([]image.DeleteResponse)
	return res, args.Error(1)
}

func (m *mockDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	args := m.Called(ctx, config, hostConfig, networkingConfig, platform, containerName)
	return args.Get(0).(container.CreateResponse), args.Error(1)
}

func (m *mockDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return m.Called(ctx, containerID, options).Error(0)
}

func (m *mockDockerClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	return m.Called(ctx, containerID, options).Error(0)
}

func (m *mockDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	return m.Called(ctx, containerID, options).Error(0)
}

func (m *mockDockerClient) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	args := m.Called(ctx, containerID)
	return args.Get(0).(container.InspectResponse), args.Error(1)
}

func TestEngineCreate(t *testing.T) {
	redisCfg := model.SandboxConfig{
		Name:  "fixturebox-test",
		Image: "redis:5.0.7",
		PortBindings: []model.PortBinding{
			{ContainerPort: 6379, HostPort: 16379},
		},
		Env: map[string]string{"B": "2", "A": "1"},
		Cmd: []string{"redis-server", "--appendonly", "no"},
	}

	tests := map[string]struct {
		cfg    model.SandboxConfig
		mock   func(m *mockDockerClient)
		expID  string
		expErr bool
	}{
		"A missing image should be pulled before creating the container.": {
			cfg: redisCfg,
			mock: func(m *mockDockerClient) {
				m.On("ImageList", mock.Anything, mock.Anything).Once().Return([]image.Summary{}, nil)
				m.On("ImagePull", mock.Anything, "redis:5.0.7", mock.Anything).Once().Return(io.NopCloser(strings.NewReader("{}")), nil)

				expCfg := mock.MatchedBy(func(c *container.Config) bool {
					_, exposed := c.ExposedPorts[nat.Port("6379/tcp")]
					return c.Image == "redis:5.0.7" &&
						exposed &&
						c.Labels[docker.ManagedLabel] == "true" &&
						assert.ObjectsAreEqual([]string{"A=1", "B=2"}, c.Env) &&
						len(c.Cmd) == 3 && c.Cmd[0] == "redis-server"
				})
				expHostCfg := mock.MatchedBy(func(h *container.HostConfig) bool {
					return assert.ObjectsAreEqual(nat.PortMap{
						"6379/tcp": {{HostIP: "127.0.0.1", HostPort: "16379"}},
					}, h.PortBindings)
				})
				m.On("ContainerCreate", mock.Anything, expCfg, expHostCfg, mock.Anything, mock.Anything, "fixturebox-test").Once().Return(container.CreateResponse{ID: "c1"}, nil)
				m.On("ContainerStart", mock.Anything, "c1", mock.Anything).Once().Return(nil)
			},
			expID: "c1",
		},

		"A present image should not be pulled.": {
			cfg: redisCfg,
			mock: func(m *mockDockerClient) {
				m.On("ImageList", mock.Anything, mock.Anything).Once().Return([]image.Summary{{ID: "sha256:1"}}, nil)
				m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, "fixturebox-test").Once().Return(container.CreateResponse{ID: "c1"}, nil)
				m.On("ContainerStart", mock.Anything, "c1", mock.Anything).Once().Return(nil)
			},
			expID: "c1",
		},

		"A failed pull should fail.": {
			cfg: redisCfg,
			mock: func(m *mockDockerClient) {
				m.On("ImageList", mock.Anything, mock.Anything).Once().Return([]image.Summary{}, nil)
				m.On("ImagePull", mock.Anything, "redis:5.0.7", mock.Anything).Once().Return(nil, fmt.Errorf("something"))
			},
			expErr: true,
		},

		"A failed start should remove the created container.": {
			cfg: redisCfg,
			mock: func(m *mockDockerClient) {
				m.On("ImageList", mock.Anything, mock.Anything).Once().Return([]image.Summary{{ID: "sha256:1"}}, nil)
				m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, "fixturebox-test").Once().Return(container.CreateResponse{ID: "c1"}, nil)
				m.On("ContainerStart", mock.Anything, "c1", mock.Anything).Once().Return(fmt.Errorf("port already allocated"))
				m.On("ContainerRemove", mock.Anything, "c1", container.RemoveOptions{Force: true, RemoveVolumes: true}).Once().Return(nil)
			},
			expErr: true,
		},

		"An invalid config should fail without calling docker.": {
			cfg:    model.SandboxConfig{},
			mock:   func(m *mockDockerClient) {},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := &mockDockerClient{}
			test.mock(m)

			eng, err := docker.NewEngine(docker.EngineConfig{Client: m, Logger: log.Noop})
			require.NoError(err)

			id, err := eng.Create(context.Background(), test.cfg)
			if test.expErr {
				assert.Error(err)
			} else if assert.NoError(err) {
				assert.Equal(test.expID, id)
			}

			m.AssertExpectations(t)
		})
	}
}

func TestEngineTeardownOperations(t *testing.T) {
	tests := map[string]struct {
		mock   func(m *mockDockerClient)
		run    func(ctx context.Context, eng *docker.Engine) error
		expErr error
	}{
		"Stopping an already stopped container should not fail.": {
			mock: func(m *mockDockerClient) {
				m.On("ContainerStop", mock.Anything, "c1", mock.Anything).Once().Return(cerrdefs.ErrNotModified)
			},
			run: func(ctx context.Context, eng *docker.Engine) error { return eng.Stop(ctx, "c1") },
		},

		"Stop errors should be propagated.": {
			mock: func(m *mockDockerClient) {
				m.On("ContainerStop", mock.Anything, "c1", mock.Anything).Once().Return(cerrdefs.ErrUnavailable)
			},
			run:    func(ctx context.Context, eng *docker.Engine) error { return eng.Stop(ctx, "c1") },
			expErr: cerrdefs.ErrUnavailable,
		},

		"Removing should force and remove volumes.": {
			mock: func(m *mockDockerClient) {
				m.On("ContainerRemove", mock.Anything, "c1", container.RemoveOptions{Force: true, RemoveVolumes: true}).Once().Return(nil)
			},
			run: func(ctx context.Context, eng *docker.Engine) error { return eng.Remove(ctx, "c1") },
		},

		"Removing a missing container should not fail.": {
			mock: func(m *mockDockerClient) {
				m.On("ContainerRemove", mock.Anything, "c1", mock.Anything).Once().Return(cerrdefs.ErrNotFound)
			},
			run: func(ctx context.Context, eng *docker.Engine) error { return eng.Remove(ctx, "c1") },
		},

		"Removing an image in use should return a conflict.": {
			mock: func(m *mockDockerClient) {
				m.On("ImageRemove", mock.Anything, "sha256:1", image.RemoveOptions{PruneChildren: true}).Once().Return(nil, cerrdefs.ErrConflict)
			},
			run:    func(ctx context.Context, eng *docker.Engine) error { return eng.RemoveImage(ctx, "sha256:1") },
			expErr: model.ErrImageConflict,
		},

		"Other image removal errors should not be conflicts.": {
			mock: func(m *mockDockerClient) {
				m.On("ImageRemove", mock.Anything, "sha256:1", mock.Anything).Once().Return(nil, cerrdefs.ErrInternal)
			},
			run:    func(ctx context.Context, eng *docker.Engine) error { return eng.RemoveImage(ctx, "sha256:1") },
			expErr: cerrdefs.ErrInternal,
		},

		"Image of a container should return the container image ID.": {
			mock: func(m *mockDockerClient) {
				m.On("ContainerInspect", mock.Anything, "c1").Once().Return(container.InspectResponse{
					ContainerJSONBase: &container.ContainerJSONBase{ID: "c1", Image: "sha256:1"},
				}, nil)
			},
			run: func(ctx context.Context, eng *docker.Engine) error {
				img, err := eng.ImageOf(ctx, "c1")
				if err != nil {
					return err
				}
				if img != "sha256:1" {
					return fmt.Errorf("unexpected image %q", img)
				}
				return nil
			},
		},

		"Image of a missing container should be not found.": {
			mock: func(m *mockDockerClient) {
				m.On("ContainerInspect", mock.Anything, "c1").Once().Return(container.InspectResponse{}, cerrdefs.ErrNotFound)
			},
			run: func(ctx context.Context, eng *docker.Engine) error {
				_, err := eng.ImageOf(ctx, "c1")
				return err
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := &mockDockerClient{}
			test.mock(m)

			eng, err := docker.NewEngine(docker.EngineConfig{Client: m})
			require.NoError(t, err)

			err = test.run(context.Background(), eng)
			if test.expErr != nil {
				assert.True(t, errors.Is(err, test.expErr), "got: %v", err)
			} else {
				assert.NoError(t, err)
			}

			m.AssertExpectations(t)
		})
	}
}

func TestEngineCheck(t *testing.T) {
	tests := map[string]struct {
		mock      func(m *mockDockerClient)
		expErrors bool
	}{
		"A reachable daemon should pass.": {
			mock: func(m *mockDockerClient) {
				m.On("Ping", mock.Anything).Once().Return(types.Ping{APIVersion: "1.47"}, nil)
				m.On("ImageList", mock.Anything, mock.Anything).Once().Return([]image.Summary{}, nil)
			},
		},

		"An unreachable daemon should fail.": {
			mock: func(m *mockDockerClient) {
				m.On("Ping", mock.Anything).Once().Return(types.Ping{}, fmt.Errorf("cannot connect"))
			},
			expErrors: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := &mockDockerClient{}
			test.mock(m)

			eng, err := docker.NewEngine(docker.EngineConfig{Client: m})
			require.NoError(t, err)

			results := eng.Check(context.Background())
			assert.Equal(t, test.expErrors, model.HasErrors(results))
			m.AssertExpectations(t)
		})
	}
}
