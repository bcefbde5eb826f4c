package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
)

const uniqueViolation = "23505"

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
	ErrMigration    = errors.New("database migration error")
)

type Database struct {
	*sqlx.DB
}

func NewDatabase(host, port, user, pass, name, sslMode string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", host, port, user, pass, name, sslMode)
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		db.Close()

		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_tables",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS clients (
						client_id INTEGER PRIMARY KEY,
						device_id VARCHAR(255) NOT NULL UNIQUE,
						created_at TIMESTAMPTZ NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS rounds (
						round_index INTEGER NOT NULL,
						attempt INTEGER NOT NULL DEFAULT 0,
						outcome VARCHAR(32) NOT NULL,
						participants JSONB NOT NULL,
						total_samples BIGINT NOT NULL DEFAULT 0,
						started_at TIMESTAMPTZ NOT NULL,
						completed_at TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (round_index, attempt)
					)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS rounds`,
					`DROP TABLE IF EXISTS clients`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "postgres", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
