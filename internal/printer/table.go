package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/slok/fixturebox/internal/model"
)

// TablePrinter prints fixture information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintList prints ledger records in a table format.
func (t *TablePrinter) PrintList(fixtures []model.Fixture) error {
	if len(fixtures) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tSERVICE\tIMAGE\tSANDBOX\tPORTS\tAGE")
	for _, f := range fixtures {
		ports := make([]string, 0, len(f.Config.PortBindings))
		for _, pb := range f.Config.PortBindings {
			ports = append(ports, pb.String())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID,
			f.Service,
			f.Config.Image,
			ShortID(f.SandboxID),
			strings.Join(ports, ","),
			Age(f.CreatedAt),
		)
	}

	return nil
}

// PrintStatus prints a ledger record and the state of its sandbox.
func (t *TablePrinter) PrintStatus(status model.FixtureStatus) error {
	f := status.Fixture
	state := "present"
	if !status.SandboxPresent {
		state = "missing (leaked record)"
	}

	fmt.Fprintf(t.writer, "ID:         %s\n", f.ID)
	if f.Name != "" {
		fmt.Fprintf(t.writer, "Name:       %s\n", f.Name)
	}
	fmt.Fprintf(t.writer, "Service:    %s\n", f.Service)
	fmt.Fprintf(t.writer, "Image:      %s\n", f.Config.Image)
	fmt.Fprintf(t.writer, "Sandbox:    %s\n", f.SandboxID)
	fmt.Fprintf(t.writer, "State:      %s\n", state)
	for _, pb := range f.Config.PortBindings {
		fmt.Fprintf(t.writer, "Port:       %s\n", pb)
	}
	if f.Config.RemoveImageOnRelease {
		fmt.Fprintf(t.writer, "Image GC:   on release\n")
	}
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(f.CreatedAt))

	return nil
}

// PrintEndpoints prints the running fixture endpoints.
func (t *TablePrinter) PrintEndpoints(endpoints []model.Endpoint) error {
	if len(endpoints) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "NAME\tSERVICE\tADDRESS\tURI")
	for _, e := range endpoints {
		uri := e.URI
		if uri == "" {
			uri = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Service, e.Address, uri)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}
