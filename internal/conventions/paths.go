package conventions

import (
	"fmt"
	"path/filepath"
	"strings"

	"k8s.io/client-go/util/homedir"
)

const (
	// DefaultDataDir is the default fixturebox data directory name (relative to home).
	DefaultDataDir = ".fixturebox"
	// DBFile is the fixture ledger SQLite filename.
	DBFile = "fixturebox.db"
	// SandboxNamePrefix is the prefix of the sandbox names generated by engines.
	SandboxNamePrefix = "fixturebox-"
)

// DefaultDBPath returns the default fixture ledger path: ~/.fixturebox/fixturebox.db.
func DefaultDBPath() string {
	return filepath.Join(homedir.HomeDir(), DefaultDataDir, DBFile)
}

// SandboxName returns the generated sandbox name for an ID.
func SandboxName(id string) string {
	return fmt.Sprintf("%s%s", SandboxNamePrefix, strings.ToLower(id))
}
