package fake

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
)

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	// Unavailable makes the engine behave like an unreachable engine.
	Unavailable bool
	Logger      log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Fake"})
	return nil
}

type fakeSandbox struct {
	cfg     model.SandboxConfig
	imageID string
	running bool
}

// Engine is a fake implementation of the sandbox.Engine interface.
// It simulates the sandbox lifecycle in memory without running anything and
// records every operation in order so tests can check sequencing.
type Engine struct {
	sandboxes   map[string]*fakeSandbox
	images      map[string]string // Reference -> image ID.
	operations  []string
	unavailable bool
	mu          sync.Mutex
	logger      log.Logger
}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		sandboxes:   make(map[string]*fakeSandbox),
		images:      make(map[string]string),
		unavailable: cfg.Unavailable,
		logger:      cfg.Logger,
	}, nil
}

// Operations returns the operations executed on the engine, in order.
// Operations are formatted as `<op>:<target>`.
func (e *Engine) Operations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ops := make([]string, len(e.operations))
	copy(ops, e.operations)
	return ops
}

// Running returns the IDs of the running sandboxes.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	for id, sb := range e.sandboxes {
		if sb.running {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) record(op, target string) {
	e.operations = append(e.operations, fmt.Sprintf("%s:%s", op, target))
}

func (e *Engine) checkAvailable() error {
	if e.unavailable {
		return fmt.Errorf("fake engine is unavailable")
	}
	return nil
}

// Check returns the fake engine preflight checks.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	if e.unavailable {
		return []model.CheckResult{{ID: model.CheckEngineReachable, Message: "Fake engine is unavailable", Status: model.CheckStatusError}}
	}
	return []model.CheckResult{{ID: model.CheckEngineReachable, Message: "Fake engine is always reachable", Status: model.CheckStatusOK}}
}

// ListImages lists the images "pulled" by the fake engine.
func (e *Engine) ListImages(ctx context.Context, reference string) ([]model.Image, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkAvailable(); err != nil {
		return nil, err
	}

	var images []model.Image
	for ref, id := range e.images {
		if reference != "" && reference != ref {
			continue
		}
		images = append(images, model.Image{ID: id, Tags: []string{ref}})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].ID < images[j].ID })

	return images, nil
}

// Create creates a new running fake sandbox.
func (e *Engine) Create(ctx context.Context, cfg model.SandboxConfig) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkAvailable(); err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid sandbox config: %w", err)
	}

	imageID, ok := e.images[cfg.Image]
	if !ok {
		imageID = "sha256:" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
		e.images[cfg.Image] = imageID
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	e.sandboxes[id] = &fakeSandbox{cfg: cfg, imageID: imageID, running: true}
	e.record("create", id)
	e.logger.Infof("Created fake sandbox: %s (image: %s)", id, cfg.Image)

	return id, nil
}

// Stop stops a fake sandbox.
func (e *Engine) Stop(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkAvailable(); err != nil {
		return err
	}

	e.record("stop", id)
	sb, ok := e.sandboxes[id]
	if !ok {
		e.logger.Debugf("Sandbox %s is already gone", id)
		return nil
	}

	if !sb.running {
		e.logger.Debugf("Sandbox %s is already stopped", id)
		return nil // Idempotent.
	}
	sb.running = false

	return nil
}

// Remove removes a fake sandbox.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkAvailable(); err != nil {
		return err
	}

	e.record("remove", id)
	if _, ok := e.sandboxes[id]; !ok {
		e.logger.Debugf("Sandbox %s already removed", id)
		return nil
	}
	delete(e.sandboxes, id)

	return nil
}

// ImageOf returns the image ID of a fake sandbox.
func (e *Engine) ImageOf(ctx context.Context, id string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkAvailable(); err != nil {
		return "", err
	}

	e.record("image_of", id)
	sb, ok := e.sandboxes[id]
	if !ok {
		return "", fmt.Errorf("sandbox %s: %w", id, model.ErrNotFound)
	}

	return sb.imageID, nil
}

// RemoveImage removes a fake image, it conflicts if any sandbox (running or not) uses it.
func (e *Engine) RemoveImage(ctx context.Context, imageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkAvailable(); err != nil {
		return err
	}

	e.record("remove_image", imageID)
	for id, sb := range e.sandboxes {
		if sb.imageID == imageID {
			return fmt.Errorf("image %s used by sandbox %s: %w", imageID, id, model.ErrImageConflict)
		}
	}

	for ref, id := range e.images {
		if id == imageID {
			delete(e.images, ref)
			return nil
		}
	}

	return fmt.Errorf("image %s: %w", imageID, model.ErrNotFound)
}
