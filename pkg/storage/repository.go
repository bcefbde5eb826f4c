package storage

import (
	"context"

	"github.com/absmach/fedcoord/pkg/fl"
)

// ClientRepository persists client registrations. Create fails with
// errors.ErrEntityExists when the device id or the client id is taken.
type ClientRepository interface {
	Create(ctx context.Context, r fl.Registration) error
	GetByDevice(ctx context.Context, deviceID string) (fl.Registration, error)
	List(ctx context.Context, offset, limit uint64) ([]fl.Registration, uint64, error)
}

// RoundRepository persists the history of finished rounds ordered by index.
type RoundRepository interface {
	Create(ctx context.Context, r fl.RoundRecord) error
	List(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error)
}
