package docker

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/oklog/ulid/v2"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/fixturebox/internal/conventions"
	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
)

const (
	// ManagedLabel is the label set on every container created by the engine.
	ManagedLabel = "io.fixturebox.managed"

	stopTimeoutSeconds = 10
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// EngineConfig is the configuration for the Docker engine.
type EngineConfig struct {
	Client DockerClient
	Logger log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Client == nil {
		// Create a default Docker client
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Docker"})
	return nil
}

// Engine is the Docker implementation of the sandbox.Engine interface.
// Sandbox IDs are Docker container IDs.
type Engine struct {
	client DockerClient
	logger log.Logger
}

// NewEngine creates a new Docker engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		client: cfg.Client,
		logger: cfg.Logger,
	}, nil
}

// Check performs the Docker daemon preflight checks.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	ping, err := e.client.Ping(ctx)
	if err != nil {
		return []model.CheckResult{{
			ID:      model.CheckEngineReachable,
			Message: fmt.Sprintf("Docker daemon is not reachable: %v", err),
			Status:  model.CheckStatusError,
		}}
	}

	results := []model.CheckResult{{
		ID:      model.CheckEngineReachable,
		Message: fmt.Sprintf("Docker daemon is reachable (API %s)", ping.APIVersion),
		Status:  model.CheckStatusOK,
	}}

	images, err := e.ListImages(ctx, "")
	if err != nil {
		results = append(results, model.CheckResult{
			ID:      model.CheckEngineImages,
			Message: fmt.Sprintf("Could not list images: %v", err),
			Status:  model.CheckStatusError,
		})
		return results
	}

	results = append(results, model.CheckResult{
		ID:      model.CheckEngineImages,
		Message: fmt.Sprintf("Images can be listed (%d local images)", len(images)),
		Status:  model.CheckStatusOK,
	})

	return results
}

// ListImages lists local images optionally filtered by reference.
func (e *Engine) ListImages(ctx context.Context, reference string) ([]model.Image, error) {
	opts := image.ListOptions{}
	if reference != "" {
		opts.Filters = filters.NewArgs(filters.Arg("reference", reference))
	}

	summaries, err := e.client.ImageList(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	images := make([]model.Image, 0, len(summaries))
	for _, s := range summaries {
		images = append(images, model.Image{
			ID:   s.ID,
			Tags: s.RepoTags,
			Size: s.Size,
		})
	}

	return images, nil
}

// Create pulls the image if missing, then creates and starts a detached container.
func (e *Engine) Create(ctx context.Context, cfg model.SandboxConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid sandbox config: %w", err)
	}

	name := cfg.Name
	if name == "" {
		id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
		name = conventions.SandboxName(id)
	}

	// Step 1: Pull the image.
	e.logger.Infof("[1/3] Ensuring image: %s", cfg.Image)
	if err := e.ensureImage(ctx, cfg.Image); err != nil {
		return "", err
	}

	// Step 2: Create container.
	e.logger.Infof("[2/3] Creating container: %s", name)
	exposed, bindings, err := portMaps(cfg.PortBindings)
	if err != nil {
		return "", err
	}

	envVars := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(envVars)

	containerConfig := &container.Config{
		Image:        cfg.Image,
		Env:          envVars,
		Cmd:          cfg.Cmd,
		ExposedPorts: exposed,
		Labels:       map[string]string{ManagedLabel: "true"},
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
	}

	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	for _, w := range resp.Warnings {
		e.logger.Warningf("Container %s: %s", name, w)
	}

	// Step 3: Start the container.
	e.logger.Infof("[3/3] Starting container: %s", resp.ID)
	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Don't leave a created but not started container behind.
		if rmErr := e.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); rmErr != nil {
			e.logger.Errorf("Failed to remove container %s after failed start: %v", resp.ID, rmErr)
		}
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	e.logger.Infof("Created Docker sandbox: %s (container: %s)", name, resp.ID)

	return resp.ID, nil
}

// ensureImage pulls the image if it doesn't exist locally.
func (e *Engine) ensureImage(ctx context.Context, ref string) error {
	images, err := e.ListImages(ctx, ref)
	if err != nil {
		return err
	}
	if len(images) > 0 {
		e.logger.Debugf("Image %s already present", ref)
		return nil
	}

	pullResp, err := e.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer pullResp.Close()

	// Consume the pull response to ensure it completes.
	if _, err := io.Copy(io.Discard, pullResp); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}

	return nil
}

// Stop stops a running container.
func (e *Engine) Stop(ctx context.Context, id string) error {
	timeout := stopTimeoutSeconds
	err := e.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err != nil {
		// Check if already stopped - this is idempotent.
		if cerrdefs.IsNotModified(err) || strings.Contains(err.Error(), "is not running") {
			e.logger.Debugf("Container %s is already stopped", id)
			return nil
		}
		if cerrdefs.IsNotFound(err) {
			e.logger.Debugf("Container %s is already gone", id)
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}

	e.logger.Debugf("Stopped container: %s", id)
	return nil
}

// Remove force removes a container and its anonymous volumes.
func (e *Engine) Remove(ctx context.Context, id string) error {
	err := e.client.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			e.logger.Debugf("Container %s already removed", id)
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}

	e.logger.Debugf("Removed container: %s", id)
	return nil
}

// ImageOf returns the image ID of a container.
func (e *Engine) ImageOf(ctx context.Context, id string) (string, error) {
	info, err := e.client.ContainerInspect(ctx, id)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", fmt.Errorf("container %s: %w", id, model.ErrNotFound)
		}
		return "", fmt.Errorf("failed to inspect container %s: %w", id, err)
	}

	if info.ContainerJSONBase == nil || info.Image == "" {
		return "", fmt.Errorf("container %s has no image: %w", id, model.ErrNotFound)
	}

	return info.Image, nil
}

// RemoveImage removes an image unless it's referenced by other containers.
func (e *Engine) RemoveImage(ctx context.Context, imageID string) error {
	_, err := e.client.ImageRemove(ctx, imageID, image.RemoveOptions{PruneChildren: true})
	if err != nil {
		if cerrdefs.IsConflict(err) {
			return fmt.Errorf("image %s: %w: %w", imageID, model.ErrImageConflict, err)
		}
		return fmt.Errorf("failed to remove image %s: %w", imageID, err)
	}

	e.logger.Debugf("Removed image: %s", imageID)
	return nil
}

// portMaps translates the port bindings into Docker exposed ports and host port bindings.
func portMaps(pbs []model.PortBinding) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, pb := range pbs {
		port, err := nat.NewPort(pb.Proto(), strconv.Itoa(pb.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port %s: %w", pb.ContainerPortProto(), model.ErrNotValid)
		}

		hostPort := ""
		if pb.HostPort != 0 {
			hostPort = strconv.Itoa(pb.HostPort)
		}

		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   pb.BindAddress(),
			HostPort: hostPort,
		})
	}

	return exposed, bindings, nil
}
