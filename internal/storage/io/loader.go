package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/fixturebox/internal/model"
)

// FixtureSetYAMLRepository loads fixture sets from YAML files.
type FixtureSetYAMLRepository struct {
	fs fs.FS
}

// NewFixtureSetYAMLRepository creates a new YAML fixture set repository.
func NewFixtureSetYAMLRepository(filesystem fs.FS) *FixtureSetYAMLRepository {
	return &FixtureSetYAMLRepository{fs: filesystem}
}

// GetFixtureSet loads a fixture set from a YAML file and returns a validated domain model.
func (r *FixtureSetYAMLRepository) GetFixtureSet(ctx context.Context, path string) (model.FixtureSet, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.FixtureSet{}, fmt.Errorf("reading fixture set file: %w", err)
	}

	if ctx.Err() != nil {
		return model.FixtureSet{}, ctx.Err()
	}

	var set FixtureSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return model.FixtureSet{}, fmt.Errorf("parsing YAML: %w", err)
	}

	m, err := set.toModel()
	if err != nil {
		return model.FixtureSet{}, fmt.Errorf("invalid fixture set: %w: %w", model.ErrNotValid, err)
	}

	return m, nil
}

// FixtureSet represents the YAML structure of a fixture set.
type FixtureSet struct {
	Fixtures []Fixture `yaml:"fixtures"`
}

// Fixture represents the YAML structure of a single fixture.
type Fixture struct {
	Name        string            `yaml:"name"`
	Service     string            `yaml:"service"`
	Version     string            `yaml:"version"`
	Image       string            `yaml:"image"`
	Host        string            `yaml:"host"`
	Port        int               `yaml:"port"`
	Ports       []string          `yaml:"ports"`
	Env         map[string]string `yaml:"env"`
	Cmd         []string          `yaml:"cmd"`
	Username    string            `yaml:"username"`
	Password    string            `yaml:"password"`
	RemoveImage bool              `yaml:"remove_image"`
	Wait        WaitConfig        `yaml:"wait"`
}

// WaitConfig represents the YAML structure of the readiness wait options.
type WaitConfig struct {
	PollInterval string `yaml:"poll_interval"`
	Timeout      string `yaml:"timeout"`
}

func (s FixtureSet) toModel() (model.FixtureSet, error) {
	if len(s.Fixtures) == 0 {
		return model.FixtureSet{}, fmt.Errorf("at least one fixture is required")
	}

	names := map[string]bool{}
	set := model.FixtureSet{}
	for i, f := range s.Fixtures {
		spec, err := f.toModel()
		if err != nil {
			return model.FixtureSet{}, fmt.Errorf("fixture %d: %w", i, err)
		}
		if names[spec.Name] {
			return model.FixtureSet{}, fmt.Errorf("fixture %d: duplicated name %q", i, spec.Name)
		}
		names[spec.Name] = true
		set.Fixtures = append(set.Fixtures, spec)
	}

	return set, nil
}

func (f Fixture) toModel() (model.FixtureSpec, error) {
	if f.Name == "" {
		return model.FixtureSpec{}, fmt.Errorf("name is required")
	}

	service := model.ServiceKindGeneric
	if f.Service != "" {
		s, err := model.ParseServiceKind(f.Service)
		if err != nil {
			return model.FixtureSpec{}, err
		}
		service = s
	}

	spec := model.FixtureSpec{
		Name:        f.Name,
		Service:     service,
		Version:     f.Version,
		Image:       f.Image,
		Host:        f.Host,
		Port:        f.Port,
		Env:         f.Env,
		Cmd:         f.Cmd,
		Username:    f.Username,
		Password:    f.Password,
		RemoveImage: f.RemoveImage,
	}

	if service == model.ServiceKindGeneric {
		if f.Image == "" {
			return model.FixtureSpec{}, fmt.Errorf("image is required on generic fixtures")
		}
		if f.Port != 0 {
			return model.FixtureSpec{}, fmt.Errorf("port is only supported on service fixtures, use ports")
		}
		for _, p := range f.Ports {
			pb, err := model.ParsePortBinding(p)
			if err != nil {
				return model.FixtureSpec{}, err
			}
			spec.PortBindings = append(spec.PortBindings, pb)
		}
	} else {
		if len(f.Ports) > 0 {
			return model.FixtureSpec{}, fmt.Errorf("ports are only supported on generic fixtures, use port")
		}
		if len(f.Env) > 0 || len(f.Cmd) > 0 {
			return model.FixtureSpec{}, fmt.Errorf("env and cmd are only supported on generic fixtures")
		}
	}

	if f.Port < 0 || f.Port > 65535 {
		return model.FixtureSpec{}, fmt.Errorf("port %d out of range", f.Port)
	}

	var err error
	if spec.PollInterval, err = parseDuration(f.Wait.PollInterval); err != nil {
		return model.FixtureSpec{}, fmt.Errorf("wait.poll_interval: %w", err)
	}
	if spec.ReadyTimeout, err = parseDuration(f.Wait.Timeout); err != nil {
		return model.FixtureSpec{}, fmt.Errorf("wait.timeout: %w", err)
	}

	return spec, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
