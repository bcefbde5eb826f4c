package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/absmach/fedcoord/pkg/fl"
)

const roundPrefix = "round:"

type RoundRepository struct {
	db *Database
}

func NewRoundRepository(db *Database) *RoundRepository {
	return &RoundRepository{db: db}
}

func (r *RoundRepository) Create(_ context.Context, rec fl.RoundRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	key := fmt.Sprintf("%s%010d:%04d", roundPrefix, rec.Index, rec.Attempt)

	return r.db.insert(map[string][]byte{key: val})
}

func (r *RoundRepository) List(_ context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error) {
	total, err := r.db.countWithPrefix([]byte(roundPrefix))
	if err != nil {
		return nil, 0, err
	}

	items, err := r.db.listWithPrefix([]byte(roundPrefix), offset, limit)
	if err != nil {
		return nil, 0, err
	}

	recs := make([]fl.RoundRecord, 0, len(items))
	for _, item := range items {
		var rec fl.RoundRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, 0, fmt.Errorf("unmarshal error: %w", err)
		}
		recs = append(recs, rec)
	}

	return recs, total, nil
}
