package sdk_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/coordinator/api"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/mqtt"
	"github.com/absmach/fedcoord/pkg/sdk"
	"github.com/absmach/fedcoord/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) Send(context.Context, fl.Message) error { return nil }

func (nopTransport) Stop(context.Context) error { return nil }

func newSDK(t *testing.T) sdk.SDK {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	registry, err := coordinator.NewClientRegistry(ctx, storage.NewMemoryClientRepository())
	require.NoError(t, err)
	agg := coordinator.NewAggregator(fl.GlobalModel{Params: fl.Params{"w": {0, 0}}}, 2, nil, logger)
	rounds := storage.NewMemoryRoundRepository()
	c, err := coordinator.New(coordinator.Config{RoundNum: 2, ClientsPerRound: 2}, agg, registry, nopTransport{}, logger, coordinator.WithRoundRepository(rounds))
	require.NoError(t, err)

	args := fl.TrainingArgs{Dataset: "mnist", CommRound: 2, ClientNumPerRound: 2, MQTTHost: "localhost", MQTTPort: 1883}
	svc := coordinator.NewService(c, registry, agg, rounds, mqtt.NewTopicBuilder("d", "c"), coordinator.ServiceConfig{Args: args}, logger)

	ts := httptest.NewServer(api.MakeHandler(svc, logger, "test", ""))
	t.Cleanup(ts.Close)

	return sdk.NewSDK(sdk.Config{CoordinatorURL: ts.URL})
}

func TestRegister(t *testing.T) {
	s := newSDK(t)

	cases := []struct {
		desc     string
		deviceID string
		clientID int
		err      bool
	}{
		{desc: "register first device", deviceID: "device-a", clientID: 1},
		{desc: "register second device", deviceID: "device b", clientID: 2},
		{desc: "register first device again", deviceID: "device-a", clientID: 1},
		{desc: "register without device id", deviceID: "", err: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			reg, err := s.Register(tc.deviceID)
			if tc.err {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.clientID, reg.ClientID)
			assert.Equal(t, fmt.Sprint(tc.clientID), reg.ExecutorID)
			assert.Equal(t, fmt.Sprintf("m/d/c/c/fl/clients/%d", tc.clientID), reg.ExecutorTopic)
			assert.Equal(t, "tcp://localhost:1883", reg.Args.BrokerURL())
		})
	}

	page, err := s.ListClients(0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Total)
	assert.Len(t, page.Clients, 2)
}

func TestRounds(t *testing.T) {
	s := newSDK(t)

	_, err := s.StartRounds()
	assert.Error(t, err, "rounds must not start before enough clients registered")

	for _, device := range []string{"device-a", "device-b"} {
		_, err := s.Register(device)
		require.NoError(t, err)
	}

	status, err := s.StartRounds()
	require.NoError(t, err)
	assert.Equal(t, string(coordinator.StateAwaitingUpdates), status.State)
	assert.Equal(t, 2, status.Expected)

	codec := fl.JSONCodec{}
	for sender, w := range map[int][]float64{1: {1, 2}, 2: {3, 4}} {
		data, err := codec.Encode(fl.Params{"w": w})
		require.NoError(t, err)
		require.NoError(t, s.SendUpdate(fl.NewSendModelToServer(sender, 0, 10, data)))
	}

	data, err := codec.Encode(fl.Params{"w": {1, 1}})
	require.NoError(t, err)
	assert.Error(t, s.SendUpdate(fl.NewSendModelToServer(1, 0, 10, data)), "stale update must be rejected")

	model, err := s.GlobalModel()
	require.NoError(t, err)
	assert.Equal(t, 1, model.Round)
	assert.InDeltaSlice(t, []float64{2, 3}, model.Params["w"], 1e-9)

	status, err = s.RoundStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, status.RoundIndex)
	assert.Empty(t, status.Received)

	page, err := s.ListRounds(0, 10)
	require.NoError(t, err)
	require.Len(t, page.Rounds, 1)
	assert.Equal(t, []int{1, 2}, page.Rounds[0].Participants)
}
