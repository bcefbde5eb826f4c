package coordinator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/mqtt"
	"github.com/absmach/fedcoord/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, cfg coordinator.ServiceConfig, rounds storage.RoundRepository) (coordinator.Service, *recordingTransport) {
	t.Helper()
	ctx := context.Background()

	registry, err := coordinator.NewClientRegistry(ctx, storage.NewMemoryClientRepository())
	require.NoError(t, err)
	agg := coordinator.NewAggregator(fl.GlobalModel{Params: fl.Params{"w": {0}}}, 2, nil, logger)
	transport := &recordingTransport{}

	opts := []coordinator.Option{coordinator.WithPartitionPolicy(fl.RoundPartitions{})}
	if rounds != nil {
		opts = append(opts, coordinator.WithRoundRepository(rounds))
	}
	c, err := coordinator.New(coordinator.Config{RoundNum: 1, ClientsPerRound: 2}, agg, registry, transport, logger, opts...)
	require.NoError(t, err)

	topics := mqtt.NewTopicBuilder("domain", "channel")

	return coordinator.NewService(c, registry, agg, rounds, topics, cfg, logger), transport
}

func TestServiceRegister(t *testing.T) {
	args := fl.TrainingArgs{Dataset: "mnist", CommRound: 1, ClientNumPerRound: 2}
	svc, _ := newService(t, coordinator.ServiceConfig{Args: args}, nil)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "device-a")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.ClientID)
	assert.Equal(t, "m/domain/c/channel/fl/clients/1", reg.Topic)
	assert.Equal(t, args, reg.Args)

	page, err := svc.ListClients(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), page.Total)

	status, err := svc.RoundStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateIdle, status.State, "rounds must not start without auto start")
}

func TestServiceAutoStart(t *testing.T) {
	svc, transport := newService(t, coordinator.ServiceConfig{AutoStart: true, StartDelay: time.Millisecond}, nil)
	ctx := context.Background()

	for i := range 2 {
		_, err := svc.Register(ctx, fmt.Sprintf("device-%d", i))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		status, err := svc.RoundStatus(ctx)

		return err == nil && status.State == coordinator.StateAwaitingUpdates
	}, time.Second, 5*time.Millisecond)

	inits := transport.messages(fl.MsgInitConfig)
	require.Len(t, inits, 2)
	for _, m := range inits {
		p, err := m.Partition()
		require.NoError(t, err)
		assert.Equal(t, 0, p, "round partitions assign the round index")
	}

	assert.ErrorIs(t, svc.StartRounds(ctx), coordinator.ErrAlreadyStarted)
}

func TestServiceRounds(t *testing.T) {
	cases := []struct {
		desc   string
		rounds storage.RoundRepository
		total  uint64
	}{
		{desc: "with round history", rounds: storage.NewMemoryRoundRepository(), total: 1},
		{desc: "without round history", rounds: nil, total: 0},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			svc, _ := newService(t, coordinator.ServiceConfig{}, tc.rounds)
			ctx := context.Background()

			for i := range 2 {
				_, err := svc.Register(ctx, fmt.Sprintf("device-%d", i))
				require.NoError(t, err)
			}
			require.NoError(t, svc.StartRounds(ctx))
			require.NoError(t, svc.HandleUpdate(ctx, update(t, 1, 0, 1, fl.Params{"w": {2}})))
			require.NoError(t, svc.HandleUpdate(ctx, update(t, 2, 0, 3, fl.Params{"w": {6}})))

			model, err := svc.GlobalModel(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, model.Round)
			assert.InDeltaSlice(t, []float64{5}, model.Params["w"], 1e-9)

			page, err := svc.ListRounds(ctx, 0, 10)
			require.NoError(t, err)
			assert.Equal(t, tc.total, page.Total)
			assert.Len(t, page.Rounds, int(tc.total))
		})
	}
}

func TestServiceRegisterDatasetURL(t *testing.T) {
	cases := []struct {
		desc string
		cfg  coordinator.ServiceConfig
		urls []string
	}{
		{
			desc: "fixed dataset url",
			cfg:  coordinator.ServiceConfig{Args: fl.TrainingArgs{DatasetURL: "http://data/mnist.zip"}},
			urls: []string{"http://data/mnist.zip", "http://data/mnist.zip"},
		},
		{
			desc: "per client dataset url",
			cfg:  coordinator.ServiceConfig{DatasetRoot: "http://coordinator:7070"},
			urls: []string{"http://coordinator:7070/get-preprocessed-data/0", "http://coordinator:7070/get-preprocessed-data/1"},
		},
		{
			desc: "dataset root with trailing slash",
			cfg: coordinator.ServiceConfig{
				Args:        fl.TrainingArgs{DatasetURL: "http://data/mnist.zip"},
				DatasetRoot: "http://coordinator:7070/",
			},
			urls: []string{"http://coordinator:7070/get-preprocessed-data/0", "http://coordinator:7070/get-preprocessed-data/1"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			svc, _ := newService(t, tc.cfg, nil)
			ctx := context.Background()

			for i, url := range tc.urls {
				reg, err := svc.Register(ctx, fmt.Sprintf("device-%d", i))
				require.NoError(t, err)
				assert.Equal(t, url, reg.Args.DatasetURL)
			}
		})
	}
}

func TestServiceAutoStartRetries(t *testing.T) {
	svc, transport := newService(t, coordinator.ServiceConfig{
		AutoStart:       true,
		StartDelay:      time.Millisecond,
		StartRetryDelay: 5 * time.Millisecond,
	}, nil)
	transport.failNext(2, 1)
	ctx := context.Background()

	for i := range 2 {
		_, err := svc.Register(ctx, fmt.Sprintf("device-%d", i))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		status, err := svc.RoundStatus(ctx)

		return err == nil && status.State == coordinator.StateAwaitingUpdates
	}, time.Second, 5*time.Millisecond)

	receivers := map[int]int{}
	for _, m := range transport.messages(fl.MsgInitConfig) {
		receivers[m.Receiver]++
	}
	assert.Equal(t, map[int]int{1: 2, 2: 1}, receivers, "the failed start is retried for every member")
}
