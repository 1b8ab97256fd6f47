package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/fixturebox/internal/log"
	"github.com/slok/fixturebox/internal/model"
	"github.com/slok/fixturebox/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
// The ledger is shared by every process using the same DB path, so
// fixtures leaked by a crashed test run can be pruned later.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	// Parallel test binaries share the ledger, busy_timeout avoids failing on locks.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	schema, err := migrations.NewSchema(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not load ledger schema: %w", err)
	}
	if err := schema.Up(ctx); err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// CreateFixture stores a new fixture record.
func (r *Repository) CreateFixture(ctx context.Context, f model.Fixture) error {
	pbs, env, cmd, err := encodeConfig(f.Config)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fixtures (
			id, name, service, sandbox_id,
			image, port_bindings, env, cmd, remove_image,
			created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		f.ID,
		f.Name,
		string(f.Service),
		f.SandboxID,
		f.Config.Image,
		pbs,
		env,
		cmd,
		f.Config.RemoveImageOnRelease,
		f.CreatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: fixtures.") {
			return fmt.Errorf("fixture already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert fixture: %w", err)
	}

	r.logger.Debugf("Created fixture in repository: %s", f.ID)
	return nil
}

const selectFixtures = `
	SELECT
		id, name, service, sandbox_id,
		image, port_bindings, env, cmd, remove_image,
		created_at
	FROM fixtures
`

// GetFixture retrieves a fixture record by ID.
func (r *Repository) GetFixture(ctx context.Context, id string) (*model.Fixture, error) {
	row := r.db.QueryRowContext(ctx, selectFixtures+` WHERE id = ?`, id)
	f, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("fixture %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query fixture: %w", err)
	}

	return &f, nil
}

// ListFixtures returns all fixture records, newest first.
func (r *Repository) ListFixtures(ctx context.Context) ([]model.Fixture, error) {
	rows, err := r.db.QueryContext(ctx, selectFixtures+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("could not query fixtures: %w", err)
	}
	defer rows.Close()

	var fixtures []model.Fixture
	for rows.Next() {
		f, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		fixtures = append(fixtures, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return fixtures, nil
}

// DeleteFixture deletes a fixture record.
func (r *Repository) DeleteFixture(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM fixtures WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete fixture: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("fixture %s: %w", id, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted fixture from repository: %s", id)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (model.Fixture, error) {
	var f model.Fixture
	var service, pbs, env, cmd string
	var createdAt int64

	err := s.Scan(
		&f.ID,
		&f.Name,
		&service,
		&f.SandboxID,
		&f.Config.Image,
		&pbs,
		&env,
		&cmd,
		&f.Config.RemoveImageOnRelease,
		&createdAt,
	)
	if err != nil {
		return model.Fixture{}, err
	}

	f.Service = model.ServiceKind(service)
	f.Config.Name = f.Name
	f.CreatedAt = time.Unix(0, createdAt).UTC()

	if err := json.Unmarshal([]byte(pbs), &f.Config.PortBindings); err != nil {
		return model.Fixture{}, fmt.Errorf("invalid port bindings: %w", err)
	}
	if err := json.Unmarshal([]byte(env), &f.Config.Env); err != nil {
		return model.Fixture{}, fmt.Errorf("invalid env: %w", err)
	}
	if err := json.Unmarshal([]byte(cmd), &f.Config.Cmd); err != nil {
		return model.Fixture{}, fmt.Errorf("invalid cmd: %w", err)
	}

	return f, nil
}

func encodeConfig(cfg model.SandboxConfig) (pbs, env, cmd string, err error) {
	pbsJSON, err := json.Marshal(cfg.PortBindings)
	if err != nil {
		return "", "", "", fmt.Errorf("could not encode port bindings: %w", err)
	}
	envJSON, err := json.Marshal(cfg.Env)
	if err != nil {
		return "", "", "", fmt.Errorf("could not encode env: %w", err)
	}
	cmdJSON, err := json.Marshal(cfg.Cmd)
	if err != nil {
		return "", "", "", fmt.Errorf("could not encode cmd: %w", err)
	}

	return string(pbsJSON), string(envJSON), string(cmdJSON), nil
}
