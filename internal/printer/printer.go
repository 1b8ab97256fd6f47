package printer

import "github.com/slok/fixturebox/internal/model"

// Printer knows how to print fixture information in different formats.
type Printer interface {
	PrintList(fixtures []model.Fixture) error
	PrintStatus(status model.FixtureStatus) error
	PrintEndpoints(endpoints []model.Endpoint) error
	PrintMessage(msg string) error
}
