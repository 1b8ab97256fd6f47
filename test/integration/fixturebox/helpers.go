package fixturebox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/slok/fixturebox/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "fixturebox"
	}

	// go test changes the CWD to the test package directory, relative paths
	// would be resolved from there.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("FIXTUREBOX_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("fixturebox binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "FIXTUREBOX_INTEGRATION"
		envBinary     = "FIXTUREBOX_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary: os.Getenv(envBinary),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunCmd runs a fixturebox command with the given arguments and a specific ledger path.
func RunCmd(ctx context.Context, config Config, dbPath, cmdArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("--db-path %s %s", dbPath, cmdArgs)
	return testutils.RunFixturebox(ctx, nil, config.Binary, args, true)
}

// StartCmd starts a long running fixturebox command, the caller must wait it.
func StartCmd(ctx context.Context, config Config, dbPath string, args ...string) *exec.Cmd {
	args = append([]string{"--db-path", dbPath}, args...)
	return testutils.Command(ctx, nil, config.Binary, args, true)
}
