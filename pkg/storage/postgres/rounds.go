package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedcoord/pkg/errors"
	"github.com/absmach/fedcoord/pkg/fl"
)

type RoundRepository struct {
	db *Database
}

func NewRoundRepository(db *Database) *RoundRepository {
	return &RoundRepository{db: db}
}

type dbRound struct {
	Index        int       `db:"round_index"`
	Attempt      int       `db:"attempt"`
	Outcome      string    `db:"outcome"`
	Participants []byte    `db:"participants"`
	TotalSamples int       `db:"total_samples"`
	StartedAt    time.Time `db:"started_at"`
	CompletedAt  time.Time `db:"completed_at"`
}

func (r *RoundRepository) Create(ctx context.Context, rec fl.RoundRecord) error {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	query := `INSERT INTO rounds (round_index, attempt, outcome, participants, total_samples, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		rec.Index, rec.Attempt, rec.Outcome, participants, rec.TotalSamples, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrEntityExists
		}

		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *RoundRepository) List(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM rounds"); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	query := `SELECT round_index, attempt, outcome, participants, total_samples, started_at, completed_at
		FROM rounds ORDER BY round_index, attempt LIMIT $1 OFFSET $2`

	var rows []dbRound
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	recs := make([]fl.RoundRecord, 0, len(rows))
	for _, row := range rows {
		var participants []int
		if err := json.Unmarshal(row.Participants, &participants); err != nil {
			return nil, 0, fmt.Errorf("unmarshal error: %w", err)
		}
		recs = append(recs, fl.RoundRecord{
			Index:        row.Index,
			Attempt:      row.Attempt,
			Outcome:      row.Outcome,
			Participants: participants,
			TotalSamples: row.TotalSamples,
			StartedAt:    row.StartedAt,
			CompletedAt:  row.CompletedAt,
		})
	}

	return recs, total, nil
}
