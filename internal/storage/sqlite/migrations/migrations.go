// Package migrations keeps the fixture ledger schema embedded in the binary
// so every process sharing a ledger upgrades it the same way.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/fixturebox/internal/log"
)

//go:embed sql/*.sql
var ledgerSQL embed.FS

// Schema manages the ledger tables of a SQLite database.
type Schema struct {
	db     *sql.DB
	logger log.Logger
}

// NewSchema returns the ledger schema of db.
func NewSchema(db *sql.DB, logger log.Logger) (*Schema, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger db is required")
	}
	if logger == nil {
		logger = log.Noop
	}

	return &Schema{
		db:     db,
		logger: logger.WithValues(log.Kv{"svc": "storage.SQLite.Schema"}),
	}, nil
}

// Up creates or upgrades the ledger tables. An up to date ledger is not an error.
func (s *Schema) Up(ctx context.Context) error {
	err := s.with(func(m *migrate.Migrate) error { return m.Up() })
	if err != nil {
		return fmt.Errorf("could not upgrade ledger schema: %w", err)
	}

	s.logger.Debugf("Ledger schema is up to date")
	return nil
}

// Down drops the ledger tables with every fixture record on them.
func (s *Schema) Down(ctx context.Context) error {
	err := s.with(func(m *migrate.Migrate) error { return m.Down() })
	if err != nil {
		return fmt.Errorf("could not drop ledger schema: %w", err)
	}

	s.logger.Debugf("Ledger schema dropped")
	return nil
}

// Version returns the applied ledger schema version, 0 when there is none.
func (s *Schema) Version(ctx context.Context) (uint, error) {
	var version uint
	err := s.with(func(m *migrate.Migrate) error {
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("ledger schema version %d was left half applied", v)
		}
		version = v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("could not get ledger schema version: %w", err)
	}

	return version, nil
}

// with runs fn on a migrator reading the embedded ledger SQL, no-change
// results are ignored.
func (s *Schema) with(fn func(m *migrate.Migrate) error) error {
	src, err := iofs.New(ledgerSQL, "sql")
	if err != nil {
		return fmt.Errorf("could not read embedded sql: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warningf("Could not close embedded sql: %v", err)
		}
	}()

	// Closing the migrator would close the shared db, only the source is closed.
	drv, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return fmt.Errorf("could not create migrator: %w", err)
	}

	err = fn(m)
	if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, migrate.ErrNilVersion) {
		return nil
	}
	return err
}
