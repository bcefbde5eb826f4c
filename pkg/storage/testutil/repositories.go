// Package testutil holds behaviour tests shared by every storage backend.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	pkgerrors "github.com/absmach/fedcoord/pkg/errors"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ClientRepository interface {
	Create(ctx context.Context, r fl.Registration) error
	GetByDevice(ctx context.Context, deviceID string) (fl.Registration, error)
	List(ctx context.Context, offset, limit uint64) ([]fl.Registration, uint64, error)
}

type RoundRepository interface {
	Create(ctx context.Context, r fl.RoundRecord) error
	List(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error)
}

func TestRegistration(id int) fl.Registration {
	return fl.Registration{
		DeviceID:  fmt.Sprintf("device-%d", id),
		ClientID:  id,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// ClientRepositoryTests expects an empty repository.
func ClientRepositoryTests(t *testing.T, repo ClientRepository) {
	t.Helper()
	ctx := context.Background()

	cases := []struct {
		desc string
		reg  fl.Registration
		err  error
	}{
		{desc: "create first client", reg: TestRegistration(1)},
		{desc: "create second client", reg: TestRegistration(2)},
		{desc: "create third client", reg: TestRegistration(3)},
		{
			desc: "create with taken device id",
			reg:  fl.Registration{DeviceID: "device-1", ClientID: 4, CreatedAt: time.Now().UTC()},
			err:  pkgerrors.ErrEntityExists,
		},
		{
			desc: "create with taken client id",
			reg:  fl.Registration{DeviceID: "device-x", ClientID: 2, CreatedAt: time.Now().UTC()},
			err:  pkgerrors.ErrEntityExists,
		},
		{
			desc: "create with empty device id",
			reg:  fl.Registration{ClientID: 5, CreatedAt: time.Now().UTC()},
			err:  pkgerrors.ErrEmptyKey,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := repo.Create(ctx, tc.reg)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)

			got, err := repo.GetByDevice(ctx, tc.reg.DeviceID)
			require.NoError(t, err)
			assert.Equal(t, tc.reg.ClientID, got.ClientID)
			assert.Equal(t, tc.reg.DeviceID, got.DeviceID)
			assert.WithinDuration(t, tc.reg.CreatedAt, got.CreatedAt, time.Second)
		})
	}

	t.Run("get unknown device", func(t *testing.T) {
		_, err := repo.GetByDevice(ctx, "missing")
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})

	t.Run("list ordered by client id", func(t *testing.T) {
		regs, total, err := repo.List(ctx, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), total)
		require.Len(t, regs, 3)
		for i, reg := range regs {
			assert.Equal(t, i+1, reg.ClientID)
		}

		regs, total, err = repo.List(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), total)
		require.Len(t, regs, 1)
		assert.Equal(t, 2, regs[0].ClientID)

		regs, _, err = repo.List(ctx, 5, 10)
		require.NoError(t, err)
		assert.Empty(t, regs)
	})
}

// RoundRepositoryTests expects an empty repository.
func RoundRepositoryTests(t *testing.T, repo RoundRepository) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	records := []fl.RoundRecord{
		{Index: 1, Outcome: fl.OutcomeAborted, Participants: []int{1}, TotalSamples: 10, StartedAt: now, CompletedAt: now},
		{Index: 0, Outcome: fl.OutcomeAggregated, Participants: []int{1, 2, 3}, TotalSamples: 30, StartedAt: now, CompletedAt: now},
		{Index: 1, Attempt: 1, Outcome: fl.OutcomeAggregated, Participants: []int{1, 2}, TotalSamples: 20, StartedAt: now, CompletedAt: now},
	}
	for _, rec := range records {
		require.NoError(t, repo.Create(ctx, rec))
	}

	err := repo.Create(ctx, records[0])
	assert.ErrorIs(t, err, pkgerrors.ErrEntityExists)

	got, total, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, []int{1, 2, 3}, got[0].Participants)
	assert.Equal(t, fl.OutcomeAborted, got[1].Outcome)
	assert.Equal(t, 1, got[2].Attempt)
	assert.Equal(t, 20, got[2].TotalSamples)

	got, _, err = repo.List(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Attempt)
}
