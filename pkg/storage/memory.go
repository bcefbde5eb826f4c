package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/absmach/fedcoord/pkg/errors"
	"github.com/absmach/fedcoord/pkg/fl"
)

type inMemoryStorage struct {
	sync.Mutex

	data map[string]any
}

func NewInMemoryStorage() Storage {
	return &inMemoryStorage{
		data: make(map[string]any),
	}
}

func (s *inMemoryStorage) Create(_ context.Context, key string, value any) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.data[key]; ok {
		return errors.ErrEntityExists
	}

	s.data[key] = value

	return nil
}

func (s *inMemoryStorage) Get(_ context.Context, key string) (any, error) {
	if key == "" {
		return nil, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if val, ok := s.data[key]; ok {
		return val, nil
	}

	return nil, errors.ErrNotFound
}

func (s *inMemoryStorage) Update(_ context.Context, key string, value any) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.data[key]; !ok {
		return errors.ErrNotFound
	}

	s.data[key] = value

	return nil
}

// List returns values ordered by key.
func (s *inMemoryStorage) List(_ context.Context, offset, limit uint64) (result []any, total uint64, err error) {
	s.Lock()
	defer s.Unlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	total = uint64(len(keys))
	if offset >= total {
		return nil, total, nil
	}

	end := min(offset+limit, total)

	result = make([]any, end-offset)
	for i := offset; i < end; i++ {
		result[i-offset] = s.data[keys[i]]
	}

	return result, total, nil
}

func (s *inMemoryStorage) Delete(_ context.Context, key string) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	delete(s.data, key)

	return nil
}

type memoryClientRepo struct {
	mu      sync.Mutex
	clients Storage
	devices map[string]int
}

func NewMemoryClientRepository() ClientRepository {
	return &memoryClientRepo{
		clients: NewInMemoryStorage(),
		devices: make(map[string]int),
	}
}

func (r *memoryClientRepo) Create(ctx context.Context, reg fl.Registration) error {
	if reg.DeviceID == "" {
		return errors.ErrEmptyKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[reg.DeviceID]; ok {
		return errors.ErrEntityExists
	}
	if err := r.clients.Create(ctx, clientKey(reg.ClientID), reg); err != nil {
		return err
	}
	r.devices[reg.DeviceID] = reg.ClientID

	return nil
}

func (r *memoryClientRepo) GetByDevice(ctx context.Context, deviceID string) (fl.Registration, error) {
	r.mu.Lock()
	id, ok := r.devices[deviceID]
	r.mu.Unlock()
	if !ok {
		return fl.Registration{}, errors.ErrNotFound
	}

	data, err := r.clients.Get(ctx, clientKey(id))
	if err != nil {
		return fl.Registration{}, err
	}
	reg, ok := data.(fl.Registration)
	if !ok {
		return fl.Registration{}, errors.ErrInvalidData
	}

	return reg, nil
}

func (r *memoryClientRepo) List(ctx context.Context, offset, limit uint64) ([]fl.Registration, uint64, error) {
	data, total, err := r.clients.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	regs := make([]fl.Registration, len(data))
	for i, d := range data {
		reg, ok := d.(fl.Registration)
		if !ok {
			return nil, 0, errors.ErrInvalidData
		}
		regs[i] = reg
	}

	return regs, total, nil
}

type memoryRoundRepo struct {
	rounds Storage
}

func NewMemoryRoundRepository() RoundRepository {
	return &memoryRoundRepo{rounds: NewInMemoryStorage()}
}

func (r *memoryRoundRepo) Create(ctx context.Context, rec fl.RoundRecord) error {
	return r.rounds.Create(ctx, roundKey(rec.Index, rec.Attempt), rec)
}

func (r *memoryRoundRepo) List(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error) {
	data, total, err := r.rounds.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	recs := make([]fl.RoundRecord, len(data))
	for i, d := range data {
		rec, ok := d.(fl.RoundRecord)
		if !ok {
			return nil, 0, errors.ErrInvalidData
		}
		recs[i] = rec
	}

	return recs, total, nil
}

// Zero padded keys keep lexical and numeric order aligned.
func clientKey(id int) string {
	return fmt.Sprintf("client:%010d", id)
}

func roundKey(idx, attempt int) string {
	return fmt.Sprintf("round:%010d:%04d", idx, attempt)
}
