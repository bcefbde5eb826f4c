package coordinator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/pkg/errors"
	"github.com/absmach/fedcoord/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistryRegister(t *testing.T) {
	ctx := context.Background()
	registry, err := coordinator.NewClientRegistry(ctx, storage.NewMemoryClientRepository())
	require.NoError(t, err)

	cases := []struct {
		desc     string
		deviceID string
		clientID int
		err      error
	}{
		{desc: "first device", deviceID: "device-a", clientID: 1},
		{desc: "second device", deviceID: "device-b", clientID: 2},
		{desc: "repeated device keeps its id", deviceID: "device-a", clientID: 1},
		{desc: "empty device id", deviceID: "", err: errors.ErrEmptyKey},
		{desc: "third device", deviceID: "device-c", clientID: 3},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			reg, err := registry.Register(ctx, tc.deviceID)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.clientID, reg.ClientID)
			assert.Equal(t, tc.deviceID, reg.DeviceID)
			assert.True(t, registry.Contains(tc.clientID))
		})
	}

	assert.Equal(t, 3, registry.Count())
	assert.False(t, registry.Contains(4))
	assert.False(t, registry.Contains(0))
}

func TestClientRegistryReload(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryClientRepository()

	first, err := coordinator.NewClientRegistry(ctx, repo)
	require.NoError(t, err)
	for i := range 3 {
		_, err := first.Register(ctx, fmt.Sprintf("device-%d", i))
		require.NoError(t, err)
	}

	second, err := coordinator.NewClientRegistry(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Count())

	reg, err := second.Register(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.ClientID)

	reg, err = second.Register(ctx, "device-new")
	require.NoError(t, err)
	assert.Equal(t, 4, reg.ClientID)

	page, err := second.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), page.Total)
	assert.Len(t, page.Clients, 4)
}

func TestClientRegistryConcurrentRegister(t *testing.T) {
	ctx := context.Background()
	registry, err := coordinator.NewClientRegistry(ctx, storage.NewMemoryClientRepository())
	require.NoError(t, err)

	const devices = 20
	ids := make([]int, devices*2)

	var wg sync.WaitGroup
	for i := range devices * 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := registry.Register(ctx, fmt.Sprintf("device-%d", i%devices))
			assert.NoError(t, err)
			ids[i] = reg.ClientID
		}()
	}
	wg.Wait()

	assert.Equal(t, devices, registry.Count())
	for i := range devices {
		assert.Equal(t, ids[i], ids[i+devices], "device-%d got two ids", i)
		assert.True(t, registry.Contains(i+1))
	}
}
