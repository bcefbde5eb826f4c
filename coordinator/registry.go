package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedcoord/pkg/errors"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/storage"
)

const loadPageSize = 1000

// ClientRegistry assigns 1-based client ids to devices. Ids are never reused
// or released.
type ClientRegistry struct {
	mu      sync.RWMutex
	repo    storage.ClientRepository
	devices map[string]fl.Registration
	ids     map[int]string
}

// NewClientRegistry loads previously persisted registrations from repo.
func NewClientRegistry(ctx context.Context, repo storage.ClientRepository) (*ClientRegistry, error) {
	r := &ClientRegistry{
		repo:    repo,
		devices: make(map[string]fl.Registration),
		ids:     make(map[int]string),
	}

	for offset := uint64(0); ; offset += loadPageSize {
		regs, total, err := repo.List(ctx, offset, loadPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load client registrations: %w", err)
		}
		for _, reg := range regs {
			r.devices[reg.DeviceID] = reg
			r.ids[reg.ClientID] = reg.DeviceID
		}
		if len(regs) == 0 || offset+uint64(len(regs)) >= total {
			break
		}
	}

	return r, nil
}

// Register returns the registration of deviceID, creating it with the next
// free id on first contact.
func (r *ClientRegistry) Register(ctx context.Context, deviceID string) (fl.Registration, error) {
	if deviceID == "" {
		return fl.Registration{}, pkgerrors.ErrEmptyKey
	}

	r.mu.RLock()
	reg, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if ok {
		return reg, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.devices[deviceID]; ok {
		return reg, nil
	}

	reg = fl.Registration{
		DeviceID:  deviceID,
		ClientID:  len(r.devices) + 1,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.repo.Create(ctx, reg); err != nil {
		if !errors.Is(err, pkgerrors.ErrEntityExists) {
			return fl.Registration{}, err
		}
		// Another coordinator process sharing the store registered it first.
		stored, getErr := r.repo.GetByDevice(ctx, deviceID)
		if getErr != nil {
			return fl.Registration{}, errors.Join(err, getErr)
		}
		reg = stored
	}

	r.devices[deviceID] = reg
	r.ids[reg.ClientID] = deviceID

	return reg, nil
}

func (r *ClientRegistry) Contains(clientID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.ids[clientID]

	return ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}

func (r *ClientRegistry) List(ctx context.Context, offset, limit uint64) (ClientPage, error) {
	regs, total, err := r.repo.List(ctx, offset, limit)
	if err != nil {
		return ClientPage{}, err
	}

	return ClientPage{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Clients: regs,
	}, nil
}
