package testutils

import (
	"context"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"
)

// DockerHelper provides utilities for interacting with Docker in tests.
type DockerHelper struct {
	client *client.Client
}

// NewDockerHelper creates a new Docker helper for tests.
func NewDockerHelper(t *testing.T) *DockerHelper {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	require.NoError(t, err, "Failed to create Docker client")
	t.Cleanup(func() { _ = cli.Close() })

	return &DockerHelper{client: cli}
}

// ContainerExists checks if a container with the given ID or name exists.
func (d *DockerHelper) ContainerExists(t *testing.T, id string) bool {
	_, err := d.client.ContainerInspect(context.Background(), id)
	if cerrdefs.IsNotFound(err) {
		return false
	}
	require.NoError(t, err, "Failed to inspect container")
	return true
}

// ContainerRunning checks if a container with the given ID or name is running.
func (d *DockerHelper) ContainerRunning(t *testing.T, id string) bool {
	c, err := d.client.ContainerInspect(context.Background(), id)
	if cerrdefs.IsNotFound(err) {
		return false
	}
	require.NoError(t, err, "Failed to inspect container")
	return c.State != nil && c.State.Running
}

// ImageExists checks if an image reference is present locally.
func (d *DockerHelper) ImageExists(t *testing.T, ref string) bool {
	_, err := d.client.ImageInspect(context.Background(), ref)
	if cerrdefs.IsNotFound(err) {
		return false
	}
	require.NoError(t, err, "Failed to inspect image")
	return true
}

// CleanupContainer removes a container if it exists (for test cleanup).
func (d *DockerHelper) CleanupContainer(t *testing.T, id string) {
	err := d.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		t.Logf("Warning: Failed to remove container %s during cleanup: %v", id, err)
	}
}
