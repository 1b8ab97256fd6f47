package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/fixturebox/internal/app/list"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/printer"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	service   string
	olderThan time.Duration
	format    string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List the fixtures on the ledger, live or leaked.")
	c.Cmd.Flag("service", "Filter by service (generic, mongodb, redis, rabbitmq).").StringVar(&c.service)
	c.Cmd.Flag("older-than", "Only list fixtures older than this duration.").DurationVar(&c.olderThan)
	c.Cmd.Flag("format", "Output format (table, json).").Short('o').Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	var serviceFilter *model.ServiceKind
	if c.service != "" {
		s, err := model.ParseServiceKind(c.service)
		if err != nil {
			return err
		}
		serviceFilter = &s
	}

	repo, err := c.rootCmd.newRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := list.NewService(list.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	fixtures, err := svc.Run(ctx, list.Request{
		ServiceFilter: serviceFilter,
		OlderThan:     c.olderThan,
	})
	if err != nil {
		return fmt.Errorf("could not list fixtures: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd).PrintList(fixtures); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}

func newPrinter(format string, rootCmd *RootCommand) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(rootCmd.Stdout)
	}
	return printer.NewTablePrinter(rootCmd.Stdout)
}
