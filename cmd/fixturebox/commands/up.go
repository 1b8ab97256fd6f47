package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/fixturebox/internal/app/up"
	"github.com/slok/fixturebox/internal/fixture"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/storage/io"
	utilsenv "github.com/slok/fixturebox/internal/utils/env"
)

type UpCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file string

	// Single fixture flags.
	name         string
	service      string
	version      string
	image        string
	port         int
	ports        []string
	envSpecs     []string
	username     string
	password     string
	removeImage  bool
	pollInterval time.Duration
	timeout      time.Duration

	format string
}

// NewUpCommand returns the up command.
func NewUpCommand(rootCmd *RootCommand, app *kingpin.Application) *UpCommand {
	c := &UpCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("up", "Run fixtures until interrupted, then release them.")
	c.Cmd.Flag("file", "Fixture set YAML file.").Short('f').StringVar(&c.file)

	c.Cmd.Flag("service", "Service of a single fixture (generic, mongodb, redis, rabbitmq).").StringVar(&c.service)
	c.Cmd.Flag("name", "Name of a single fixture, defaults to the service.").StringVar(&c.name)
	c.Cmd.Flag("version", "Service image tag.").StringVar(&c.version)
	c.Cmd.Flag("image", "Image reference, required on generic fixtures.").StringVar(&c.image)
	c.Cmd.Flag("port", "Host port of a service fixture.").IntVar(&c.port)
	c.Cmd.Flag("publish", "Port binding of a generic fixture ([host-ip:][host-port:]port[/proto]), repeatable.").Short('p').StringsVar(&c.ports)
	c.Cmd.Flag("env", "Environment variable of a generic fixture (KEY=VALUE or KEY), repeatable.").Short('e').StringsVar(&c.envSpecs)
	c.Cmd.Flag("username", "Service username.").StringVar(&c.username)
	c.Cmd.Flag("password", "Service password.").StringVar(&c.password)
	c.Cmd.Flag("remove-image", "Remove the image on release if no other sandbox uses it.").BoolVar(&c.removeImage)
	c.Cmd.Flag("poll-interval", "Time between readiness checks.").DurationVar(&c.pollInterval)
	c.Cmd.Flag("timeout", "Maximum time to wait for a fixture to be ready.").DurationVar(&c.timeout)

	c.Cmd.Flag("format", "Output format (table, json).").Short('o').Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c UpCommand) Name() string { return c.Cmd.FullCommand() }

func (c UpCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	set, err := c.fixtureSet(ctx)
	if err != nil {
		return err
	}

	eng, err := c.rootCmd.newEngine()
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}

	repo, err := c.rootCmd.newRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	rt, err := fixture.NewRuntime(ctx, fixture.RuntimeConfig{
		Engine:     eng,
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	svc, err := up.NewService(up.ServiceConfig{
		Runtime: rt,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	session, err := svc.Run(ctx, up.Request{Set: set})
	if err != nil {
		return fmt.Errorf("could not bring up fixtures: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd).PrintEndpoints(session.Endpoints()); err != nil {
		logger.Errorf("Could not print endpoints: %v", err)
	}

	logger.Infof("Fixtures running, waiting for a termination signal")
	<-ctx.Done()

	// The command context is already cancelled, release must still run.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	if err := session.Release(releaseCtx); err != nil {
		// The run group has already returned the signal result, log it so it's not lost.
		logger.Errorf("Could not release fixtures: %v", err)
		return fmt.Errorf("could not release fixtures: %w", err)
	}

	return nil
}

func (c UpCommand) fixtureSet(ctx context.Context) (model.FixtureSet, error) {
	if c.file != "" {
		if c.service != "" || c.image != "" {
			return model.FixtureSet{}, fmt.Errorf("--file can't be used with single fixture flags: %w", model.ErrNotValid)
		}

		path, err := filepath.Abs(c.file)
		if err != nil {
			return model.FixtureSet{}, fmt.Errorf("could not resolve fixture set path: %w", err)
		}

		repo := io.NewFixtureSetYAMLRepository(os.DirFS("/"))
		set, err := repo.GetFixtureSet(ctx, path[1:])
		if err != nil {
			return model.FixtureSet{}, fmt.Errorf("could not load fixture set: %w", err)
		}
		return set, nil
	}

	spec, err := c.fixtureSpec()
	if err != nil {
		return model.FixtureSet{}, err
	}
	return model.FixtureSet{Fixtures: []model.FixtureSpec{spec}}, nil
}

func (c UpCommand) fixtureSpec() (model.FixtureSpec, error) {
	if c.service == "" && c.image == "" {
		return model.FixtureSpec{}, fmt.Errorf("--file, --service or --image is required: %w", model.ErrNotValid)
	}

	service := model.ServiceKindGeneric
	if c.service != "" {
		s, err := model.ParseServiceKind(c.service)
		if err != nil {
			return model.FixtureSpec{}, err
		}
		service = s
	}

	spec := model.FixtureSpec{
		Name:         c.name,
		Service:      service,
		Version:      c.version,
		Image:        c.image,
		Port:         c.port,
		Username:     c.username,
		Password:     c.password,
		RemoveImage:  c.removeImage,
		PollInterval: c.pollInterval,
		ReadyTimeout: c.timeout,
	}
	if spec.Name == "" {
		spec.Name = string(service)
	}

	if service != model.ServiceKindGeneric {
		if len(c.ports) > 0 || len(c.envSpecs) > 0 {
			return model.FixtureSpec{}, fmt.Errorf("--publish and --env are only supported on generic fixtures: %w", model.ErrNotValid)
		}
		return spec, nil
	}

	for _, p := range c.ports {
		pb, err := model.ParsePortBinding(p)
		if err != nil {
			return model.FixtureSpec{}, fmt.Errorf("invalid --publish value: %w", err)
		}
		spec.PortBindings = append(spec.PortBindings, pb)
	}

	env, err := utilsenv.ParseSpecs(c.envSpecs)
	if err != nil {
		return model.FixtureSpec{}, fmt.Errorf("invalid --env value: %w", err)
	}
	if len(env) > 0 {
		spec.Env = env
	}

	return spec, nil
}
