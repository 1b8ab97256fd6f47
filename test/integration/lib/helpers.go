package lib

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	sdklib "github.com/slok/fixturebox/pkg/lib"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	DBPath string
}

// NewConfig loads integration test configuration from environment variables.
// If the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const envActivation = "FIXTUREBOX_INTEGRATION"

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	return Config{
		DBPath: filepath.Join(t.TempDir(), "fixturebox.db"),
	}
}

// NewTestClient creates an SDK client on the Docker engine with a temp ledger.
func NewTestClient(t *testing.T, config Config) *sdklib.Client {
	t.Helper()

	client, err := sdklib.New(context.Background(), sdklib.Config{
		DBPath: config.DBPath,
		Engine: sdklib.EngineDocker,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}
