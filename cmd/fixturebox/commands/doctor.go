package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/fixturebox/internal/model"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("doctor", "Check the sandbox engine can run fixtures.")
	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	out := c.rootCmd.Stdout

	eng, err := c.rootCmd.newEngine()
	if err != nil {
		return fmt.Errorf("could not create %s engine: %w: %w", c.rootCmd.Engine, model.ErrEngineUnavailable, err)
	}

	results := eng.Check(ctx)

	fmt.Fprintf(out, "\nChecking %s engine...\n", c.rootCmd.Engine)
	for _, r := range results {
		fmt.Fprintf(out, "  %s %-20s %s\n", statusIcon(r.Status), r.ID, r.Message)
	}

	sum := model.Summarize(results)
	warnings, errs := sum.Warnings, sum.Errors

	fmt.Fprintln(out)
	if sum.Passed() {
		fmt.Fprintln(out, "All checks passed!")
		return nil
	}

	var summary []string
	if errs > 0 {
		summary = append(summary, fmt.Sprintf("%d error(s)", errs))
	}
	if warnings > 0 {
		summary = append(summary, fmt.Sprintf("%d warning(s)", warnings))
	}
	fmt.Fprintln(out, strings.Join(summary, ", "))

	if errs > 0 {
		return fmt.Errorf("preflight checks failed with %d error(s): %w", errs, model.ErrEngineUnavailable)
	}

	return nil
}

func statusIcon(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}
