package storage

import (
	"fmt"
	"io"

	"github.com/absmach/fedcoord/pkg/storage/badger"
	"github.com/absmach/fedcoord/pkg/storage/postgres"
	"github.com/absmach/fedcoord/pkg/storage/sqlite"
)

type Config struct {
	Type string `env:"COORDINATOR_STORAGE_TYPE" envDefault:"memory"`

	PostgresHost    string `env:"COORDINATOR_POSTGRES_HOST"    envDefault:"localhost"`
	PostgresPort    string `env:"COORDINATOR_POSTGRES_PORT"    envDefault:"5432"`
	PostgresUser    string `env:"COORDINATOR_POSTGRES_USER"    envDefault:"fedcoord"`
	PostgresPass    string `env:"COORDINATOR_POSTGRES_PASS"    envDefault:"fedcoord"`
	PostgresDB      string `env:"COORDINATOR_POSTGRES_DB"      envDefault:"fedcoord"`
	PostgresSSLMode string `env:"COORDINATOR_POSTGRES_SSLMODE" envDefault:"disable"`

	SQLitePath string `env:"COORDINATOR_SQLITE_PATH" envDefault:"./fedcoord.db"`

	BadgerPath string `env:"COORDINATOR_BADGER_PATH" envDefault:"./data/badger"`
}

type Repositories struct {
	Clients ClientRepository
	Rounds  RoundRepository
	// Closer closes the underlying persistent storage connection.
	// It is nil for the in-memory backend.
	Closer io.Closer
}

func (r *Repositories) Close() error {
	if r.Closer == nil {
		return nil
	}

	return r.Closer.Close()
}

func NewRepositories(cfg Config) (*Repositories, error) {
	switch cfg.Type {
	case "postgres":
		return newPostgresRepositories(cfg)
	case "sqlite":
		return newSQLiteRepositories(cfg)
	case "badger":
		return newBadgerRepositories(cfg)
	case "memory":
		return newMemoryRepositories(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}

func newPostgresRepositories(cfg Config) (*Repositories, error) {
	db, err := postgres.NewDatabase(
		cfg.PostgresHost,
		cfg.PostgresPort,
		cfg.PostgresUser,
		cfg.PostgresPass,
		cfg.PostgresDB,
		cfg.PostgresSSLMode,
	)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Clients: postgres.NewClientRepository(db),
		Rounds:  postgres.NewRoundRepository(db),
		Closer:  db,
	}, nil
}

func newSQLiteRepositories(cfg Config) (*Repositories, error) {
	db, err := sqlite.NewDatabase(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Clients: sqlite.NewClientRepository(db),
		Rounds:  sqlite.NewRoundRepository(db),
		Closer:  db,
	}, nil
}

func newBadgerRepositories(cfg Config) (*Repositories, error) {
	db, err := badger.NewDatabase(cfg.BadgerPath)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Clients: badger.NewClientRepository(db),
		Rounds:  badger.NewRoundRepository(db),
		Closer:  db,
	}, nil
}

func newMemoryRepositories() *Repositories {
	return &Repositories{
		Clients: NewMemoryClientRepository(),
		Rounds:  NewMemoryRoundRepository(),
	}
}
