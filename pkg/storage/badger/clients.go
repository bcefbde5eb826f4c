package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/absmach/fedcoord/pkg/errors"
	"github.com/absmach/fedcoord/pkg/fl"
)

const (
	clientPrefix = "client:"
	devicePrefix = "device:"
)

type ClientRepository struct {
	db *Database
}

func NewClientRepository(db *Database) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) Create(_ context.Context, reg fl.Registration) error {
	if reg.DeviceID == "" {
		return errors.ErrEmptyKey
	}
	val, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return r.db.insert(map[string][]byte{
		clientKey(reg.ClientID):     val,
		devicePrefix + reg.DeviceID: []byte(strconv.Itoa(reg.ClientID)),
	})
}

func (r *ClientRepository) GetByDevice(_ context.Context, deviceID string) (fl.Registration, error) {
	id, err := r.db.get([]byte(devicePrefix + deviceID))
	if err != nil {
		return fl.Registration{}, err
	}
	clientID, err := strconv.Atoi(string(id))
	if err != nil {
		return fl.Registration{}, fmt.Errorf("%w: %w", errors.ErrInvalidData, err)
	}

	val, err := r.db.get([]byte(clientKey(clientID)))
	if err != nil {
		return fl.Registration{}, err
	}

	var reg fl.Registration
	if err := json.Unmarshal(val, &reg); err != nil {
		return fl.Registration{}, fmt.Errorf("unmarshal error: %w", err)
	}

	return reg, nil
}

func (r *ClientRepository) List(_ context.Context, offset, limit uint64) ([]fl.Registration, uint64, error) {
	total, err := r.db.countWithPrefix([]byte(clientPrefix))
	if err != nil {
		return nil, 0, err
	}

	items, err := r.db.listWithPrefix([]byte(clientPrefix), offset, limit)
	if err != nil {
		return nil, 0, err
	}

	regs := make([]fl.Registration, 0, len(items))
	for _, item := range items {
		var reg fl.Registration
		if err := json.Unmarshal(item, &reg); err != nil {
			return nil, 0, fmt.Errorf("unmarshal error: %w", err)
		}
		regs = append(regs, reg)
	}

	return regs, total, nil
}

func clientKey(id int) string {
	return fmt.Sprintf("%s%010d", clientPrefix, id)
}
