package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/fixturebox/internal/model"
)

// JSONPrinter prints fixture information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type listItem struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Service      string            `json:"service"`
	Image        string            `json:"image"`
	SandboxID    string            `json:"sandbox_id"`
	PortBindings []portBindingItem `json:"port_bindings"`
	RemoveImage  bool              `json:"remove_image"`
	CreatedAt    time.Time         `json:"created_at"`
}

type portBindingItem struct {
	HostIP        string `json:"host_ip"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
}

type endpointItem struct {
	Name      string `json:"name"`
	Service   string `json:"service"`
	SandboxID string `json:"sandbox_id"`
	Address   string `json:"address"`
	URI       string `json:"uri,omitempty"`
}

type statusOutput struct {
	listItem
	SandboxPresent bool `json:"sandbox_present"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintList prints ledger records in JSON format.
func (j *JSONPrinter) PrintList(fixtures []model.Fixture) error {
	items := make([]listItem, len(fixtures))
	for i, f := range fixtures {
		items[i] = newListItem(f)
	}

	return j.encode(items)
}

// PrintStatus prints a ledger record and the state of its sandbox in JSON format.
func (j *JSONPrinter) PrintStatus(status model.FixtureStatus) error {
	return j.encode(statusOutput{
		listItem:       newListItem(status.Fixture),
		SandboxPresent: status.SandboxPresent,
	})
}

func newListItem(f model.Fixture) listItem {
	pbs := make([]portBindingItem, len(f.Config.PortBindings))
	for k, pb := range f.Config.PortBindings {
		pbs[k] = portBindingItem{
			HostIP:        pb.BindAddress(),
			HostPort:      pb.HostPort,
			ContainerPort: pb.ContainerPort,
			Protocol:      pb.Proto(),
		}
	}

	return listItem{
		ID:           f.ID,
		Name:         f.Name,
		Service:      string(f.Service),
		Image:        f.Config.Image,
		SandboxID:    f.SandboxID,
		PortBindings: pbs,
		RemoveImage:  f.Config.RemoveImageOnRelease,
		CreatedAt:    f.CreatedAt.UTC(),
	}
}

// PrintEndpoints prints the running fixture endpoints in JSON format.
func (j *JSONPrinter) PrintEndpoints(endpoints []model.Endpoint) error {
	items := make([]endpointItem, len(endpoints))
	for i, e := range endpoints {
		items[i] = endpointItem{
			Name:      e.Name,
			Service:   string(e.Service),
			SandboxID: e.SandboxID,
			Address:   e.Address,
			URI:       e.URI,
		}
	}

	return j.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
