package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedcoord/pkg/errors"
	"github.com/absmach/fedcoord/pkg/fl"
)

type ClientRepository struct {
	db *Database
}

func NewClientRepository(db *Database) *ClientRepository {
	return &ClientRepository{db: db}
}

type dbClient struct {
	ClientID  int       `db:"client_id"`
	DeviceID  string    `db:"device_id"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *ClientRepository) Create(ctx context.Context, reg fl.Registration) error {
	if reg.DeviceID == "" {
		return pkgerrors.ErrEmptyKey
	}
	query := `INSERT INTO clients (client_id, device_id, created_at) VALUES (?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, reg.ClientID, reg.DeviceID, reg.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrEntityExists
		}

		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *ClientRepository) GetByDevice(ctx context.Context, deviceID string) (fl.Registration, error) {
	query := `SELECT client_id, device_id, created_at FROM clients WHERE device_id = ?`

	var dbc dbClient
	if err := r.db.GetContext(ctx, &dbc, query, deviceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.Registration{}, pkgerrors.ErrNotFound
		}

		return fl.Registration{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return dbc.toRegistration(), nil
}

func (r *ClientRepository) List(ctx context.Context, offset, limit uint64) ([]fl.Registration, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM clients"); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	query := `SELECT client_id, device_id, created_at FROM clients ORDER BY client_id LIMIT ? OFFSET ?`

	var dbcs []dbClient
	if err := r.db.SelectContext(ctx, &dbcs, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	regs := make([]fl.Registration, 0, len(dbcs))
	for _, dbc := range dbcs {
		regs = append(regs, dbc.toRegistration())
	}

	return regs, total, nil
}

func (c dbClient) toRegistration() fl.Registration {
	return fl.Registration{
		DeviceID:  c.DeviceID,
		ClientID:  c.ClientID,
		CreatedAt: c.CreatedAt,
	}
}
