package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/fixturebox/internal/app/prune"
)

type PruneCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ids       []string
	olderThan time.Duration
	dryRun    bool
	format    string
}

// NewPruneCommand returns the prune command.
func NewPruneCommand(rootCmd *RootCommand, app *kingpin.Application) *PruneCommand {
	c := &PruneCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("prune", "Destroy the sandboxes of leaked fixtures and delete them from the ledger.")
	c.Cmd.Arg("id", "Fixture IDs to prune, all the ledger if missing.").StringsVar(&c.ids)
	c.Cmd.Flag("older-than", "Only prune fixtures older than this duration.").DurationVar(&c.olderThan)
	c.Cmd.Flag("dry-run", "Print what would be pruned.").BoolVar(&c.dryRun)
	c.Cmd.Flag("format", "Output format (table, json).").Short('o').Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c PruneCommand) Name() string { return c.Cmd.FullCommand() }

func (c PruneCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	eng, err := c.rootCmd.newEngine()
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}

	repo, err := c.rootCmd.newRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := prune.NewService(prune.ServiceConfig{
		Engine:     eng,
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	pruned, runErr := svc.Run(ctx, prune.Request{
		IDs:       c.ids,
		OlderThan: c.olderThan,
		DryRun:    c.dryRun,
	})

	// Print what was pruned even on partial failures.
	if err := newPrinter(c.format, c.rootCmd).PrintList(pruned); err != nil {
		return fmt.Errorf("could not print pruned fixtures: %w", err)
	}

	if runErr != nil {
		return fmt.Errorf("could not prune fixtures: %w", runErr)
	}

	return nil
}
