package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/fixturebox/internal/conventions"
	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/sandbox"
	"github.com/slok/fixturebox/internal/sandbox/docker"
	"github.com/slok/fixturebox/internal/sandbox/fake"
	"github.com/slok/fixturebox/internal/storage/sqlite"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	// EngineDocker runs the fixtures on Docker.
	EngineDocker = "docker"
	// EngineFake simulates the fixtures in memory.
	EngineFake = "fake"

	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DBPath     string
	Engine     string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	app.Flag("db-path", "Path to the fixture ledger SQLite database file.").Default(conventions.DefaultDBPath()).StringVar(&c.DBPath)
	app.Flag("engine", "Sandbox engine (docker, fake).").Default(EngineDocker).EnumVar(&c.Engine, EngineDocker, EngineFake)

	return c
}

func (r *RootCommand) newEngine() (sandbox.Engine, error) {
	if r.Engine == EngineFake {
		return fake.NewEngine(fake.EngineConfig{Logger: r.Logger})
	}

	return docker.NewEngine(docker.EngineConfig{Logger: r.Logger})
}

func (r *RootCommand) newRepository(ctx context.Context) (*sqlite.Repository, error) {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: r.DBPath,
		Logger: r.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}
	return repo, nil
}
