package participant_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fedcoord/participant"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/mqtt"
	mqttmocks "github.com/absmach/fedcoord/pkg/mqtt/mocks"
	"github.com/absmach/fedcoord/pkg/sdk"
	"github.com/absmach/fedcoord/pkg/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	domainID  = "domain"
	channelID = "channel"
	clientID  = 2
)

var (
	logger = slog.New(slog.DiscardHandler)
	topics = mqtt.NewTopicBuilder(domainID, channelID)
)

type registrarFunc func(deviceID string) (sdk.Registration, error)

func (f registrarFunc) Register(deviceID string) (sdk.Registration, error) {
	return f(deviceID)
}

func okRegistrar(args fl.TrainingArgs) participant.Registrar {
	return registrarFunc(func(string) (sdk.Registration, error) {
		return sdk.Registration{ClientID: clientID, Args: args}, nil
	})
}

// scriptedTrainer adds one to every value and records the partitions it saw.
type scriptedTrainer struct {
	mu         sync.Mutex
	partitions []int
	release    chan struct{}
	err        error
}

func (st *scriptedTrainer) Train(ctx context.Context, global fl.Params, partition int) (fl.Params, int, error) {
	st.mu.Lock()
	st.partitions = append(st.partitions, partition)
	st.mu.Unlock()

	if st.release != nil {
		select {
		case <-st.release:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if st.err != nil {
		return nil, 0, st.err
	}

	out := global.Clone()
	for _, values := range out {
		for i := range values {
			values[i]++
		}
	}

	return out, 7, nil
}

func (st *scriptedTrainer) Evaluate(context.Context, int, fl.Params, []int) (map[string]float64, error) {
	return nil, nil
}

func (st *scriptedTrainer) seen() []int {
	st.mu.Lock()
	defer st.mu.Unlock()

	return append([]int(nil), st.partitions...)
}

func newParticipant(t *testing.T, st *scriptedTrainer) *participant.Participant {
	t.Helper()
	trainers := trainer.NewRegistry()
	require.NoError(t, trainers.Register("scripted", func(trainer.Config) (trainer.Trainer, error) {
		return st, nil
	}))

	args := fl.TrainingArgs{ChannelID: channelID, Trainer: "scripted", Codec: fl.CodecJSON}
	p := participant.New(participant.Config{DeviceID: "device", DomainID: domainID}, okRegistrar(args), trainers, logger)
	_, err := p.Register(context.Background())
	require.NoError(t, err)

	return p
}

// run starts p and waits until it listens for rounds. The returned channel
// is closed once Run returned.
func run(t *testing.T, p *participant.Participant, pubsub *mqttmocks.PubSub) <-chan struct{} {
	t.Helper()
	pubsub.On("Subscribe", mock.Anything, topics.ClientTopic(clientID), mock.Anything).Return(nil).Once()
	pubsub.On("Unsubscribe", mock.Anything, topics.ClientTopic(clientID)).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		assert.NoError(t, p.Run(ctx, pubsub))
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	require.Eventually(t, func() bool {
		return p.State() == participant.StateAwaitingRound
	}, time.Second, time.Millisecond)

	return stopped
}

func encode(t *testing.T, params fl.Params) []byte {
	t.Helper()
	data, err := fl.JSONCodec{}.Encode(params)
	require.NoError(t, err)

	return data
}

func TestRegister(t *testing.T) {
	errUnavailable := errors.New("coordinator unavailable")

	cases := []struct {
		desc      string
		registrar participant.Registrar
		cfg       participant.Config
		err       error
	}{
		{
			desc:      "register with identity trainer",
			registrar: okRegistrar(fl.TrainingArgs{Trainer: trainer.IdentityName}),
		},
		{
			desc:      "register with default trainer",
			registrar: okRegistrar(fl.TrainingArgs{}),
		},
		{
			desc:      "coordinator unavailable",
			registrar: registrarFunc(func(string) (sdk.Registration, error) { return sdk.Registration{}, errUnavailable }),
			err:       errUnavailable,
		},
		{
			desc:      "unknown trainer",
			registrar: okRegistrar(fl.TrainingArgs{Trainer: "pytorch"}),
			err:       trainer.ErrUnknownTrainer,
		},
		{
			desc:      "trainer override",
			registrar: okRegistrar(fl.TrainingArgs{Trainer: "pytorch"}),
			cfg:       participant.Config{TrainerName: trainer.IdentityName},
		},
		{
			desc:      "unknown codec",
			registrar: okRegistrar(fl.TrainingArgs{Codec: "protobuf"}),
			err:       fl.ErrUnknownCodec,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			tc.cfg.DeviceID = "device"
			p := participant.New(tc.cfg, tc.registrar, trainer.NewRegistry(), logger)

			_, err := p.Register(context.Background())
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Equal(t, participant.StateUnregistered, p.State())

				return
			}
			require.NoError(t, err)
			assert.Equal(t, participant.StateRegistered, p.State())
			assert.Equal(t, clientID, p.ClientID())
		})
	}
}

func TestRunRequiresRegistration(t *testing.T) {
	p := participant.New(participant.Config{DeviceID: "device"}, okRegistrar(fl.TrainingArgs{}), trainer.NewRegistry(), logger)

	err := p.Run(context.Background(), mqttmocks.NewPubSub(t))
	assert.ErrorIs(t, err, participant.ErrNotRegistered)
}

func TestHandleModel(t *testing.T) {
	st := &scriptedTrainer{}
	p := newParticipant(t, st)

	assert.ErrorIs(t, p.HandleModel(context.Background(), fl.NewInitConfig(clientID, 0, nil)), participant.ErrNotListening)

	pubsub := mqttmocks.NewPubSub(t)
	stopped := run(t, p, pubsub)
	ctx := context.Background()

	pubsub.On("Publish", mock.Anything, topics.ServerTopic(), mock.MatchedBy(func(msg fl.Message) bool {
		params, err := fl.JSONCodec{}.Decode(msg.ModelParams)

		return err == nil &&
			msg.Type == fl.MsgSendModelToServer &&
			msg.Sender == clientID &&
			msg.Receiver == fl.ServerID &&
			msg.RoundIndex == 0 &&
			msg.NumSamples == 7 &&
			params["w"][0] == 2
	})).Return(nil).Once()
	require.NoError(t, p.HandleModel(ctx, fl.NewInitConfig(clientID, 4, encode(t, fl.Params{"w": {1}}))))
	assert.Equal(t, participant.StateAwaitingRound, p.State())

	pubsub.On("Publish", mock.Anything, topics.ServerTopic(), mock.MatchedBy(func(msg fl.Message) bool {
		return msg.RoundIndex == 1
	})).Return(nil).Twice()
	syncMsg := fl.NewSyncModelToClient(clientID, 1, 5, encode(t, fl.Params{"w": {3}}))
	require.NoError(t, p.HandleModel(ctx, syncMsg))
	require.NoError(t, p.HandleModel(ctx, syncMsg), "a resent round is trained again")

	err := p.HandleModel(ctx, fl.NewSyncModelToClient(clientID+1, 2, 0, encode(t, fl.Params{"w": {3}})))
	assert.ErrorIs(t, err, fl.ErrUnknownClient)

	err = p.HandleModel(ctx, fl.NewSendModelToServer(clientID, 2, 1, encode(t, fl.Params{"w": {3}})))
	assert.ErrorIs(t, err, fl.ErrMalformedUpdate)

	err = p.HandleModel(ctx, fl.NewSyncModelToClient(clientID, 2, 0, []byte("garbage")))
	assert.ErrorIs(t, err, fl.ErrMalformedUpdate)
	assert.Equal(t, participant.StateAwaitingRound, p.State())

	require.NoError(t, p.HandleModel(ctx, fl.NewFinish(clientID, 2)))
	assert.Equal(t, participant.StateDone, p.State())
	assert.ErrorIs(t, p.HandleModel(ctx, fl.NewFinish(clientID, 2)), fl.ErrLateMessage)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("participant did not stop after finish")
	}
	assert.Equal(t, []int{4, 5, 5}, st.seen())
}

func TestHandleModelPartitionFallback(t *testing.T) {
	st := &scriptedTrainer{}
	p := newParticipant(t, st)
	pubsub := mqttmocks.NewPubSub(t)
	run(t, p, pubsub)

	pubsub.On("Publish", mock.Anything, topics.ServerTopic(), mock.Anything).Return(nil).Once()
	msg := fl.NewInitConfig(clientID, 0, encode(t, fl.Params{"w": {1}}))
	msg.ClientIndex = ""
	require.NoError(t, p.HandleModel(context.Background(), msg))

	assert.Equal(t, []int{clientID - 1}, st.seen())
}

func TestHandleModelBusy(t *testing.T) {
	st := &scriptedTrainer{release: make(chan struct{})}
	p := newParticipant(t, st)
	pubsub := mqttmocks.NewPubSub(t)
	run(t, p, pubsub)
	ctx := context.Background()

	pubsub.On("Publish", mock.Anything, topics.ServerTopic(), mock.Anything).Return(nil).Once()
	msg := fl.NewInitConfig(clientID, 0, encode(t, fl.Params{"w": {1}}))

	done := make(chan error, 1)
	go func() {
		done <- p.HandleModel(ctx, msg)
	}()
	require.Eventually(t, func() bool {
		return p.State() == participant.StateTraining
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, p.HandleModel(ctx, msg), participant.ErrBusy)

	close(st.release)
	require.NoError(t, <-done)
	assert.Equal(t, participant.StateAwaitingRound, p.State())
}

func TestHandleModelFinishWhileTraining(t *testing.T) {
	st := &scriptedTrainer{release: make(chan struct{})}
	p := newParticipant(t, st)
	pubsub := mqttmocks.NewPubSub(t)
	run(t, p, pubsub)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- p.HandleModel(ctx, fl.NewSyncModelToClient(clientID, 3, 0, encode(t, fl.Params{"w": {1}})))
	}()
	require.Eventually(t, func() bool {
		return p.State() == participant.StateTraining
	}, time.Second, time.Millisecond)

	require.NoError(t, p.HandleModel(ctx, fl.NewFinish(clientID, 4)))
	assert.Equal(t, participant.StateDone, p.State())

	close(st.release)
	require.NoError(t, <-done, "a round finished by the coordinator is not reported")
	assert.Equal(t, participant.StateDone, p.State())
	pubsub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleModelTrainingFailure(t *testing.T) {
	errTrain := errors.New("out of memory")
	st := &scriptedTrainer{err: errTrain}
	p := newParticipant(t, st)
	pubsub := mqttmocks.NewPubSub(t)
	run(t, p, pubsub)

	err := p.HandleModel(context.Background(), fl.NewInitConfig(clientID, 0, encode(t, fl.Params{"w": {1}})))
	assert.ErrorIs(t, err, errTrain)
	assert.Equal(t, participant.StateAwaitingRound, p.State())
	pubsub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleModelReportFailure(t *testing.T) {
	errBroker := errors.New("broker unavailable")
	p := newParticipant(t, &scriptedTrainer{})
	pubsub := mqttmocks.NewPubSub(t)
	run(t, p, pubsub)

	pubsub.On("Publish", mock.Anything, topics.ServerTopic(), mock.Anything).Return(errBroker).Once()
	err := p.HandleModel(context.Background(), fl.NewInitConfig(clientID, 0, encode(t, fl.Params{"w": {1}})))
	assert.ErrorIs(t, err, errBroker)
	assert.Equal(t, participant.StateAwaitingRound, p.State())
}

func TestRunDeliversMessages(t *testing.T) {
	p := newParticipant(t, &scriptedTrainer{})
	pubsub := mqttmocks.NewPubSub(t)

	handlers := make(chan mqtt.Handler, 1)
	pubsub.On("Subscribe", mock.Anything, topics.ClientTopic(clientID), mock.Anything).Run(func(args mock.Arguments) {
		handlers <- args.Get(2).(mqtt.Handler)
	}).Return(nil).Once()
	pubsub.On("Unsubscribe", mock.Anything, topics.ClientTopic(clientID)).Return(nil).Once()

	reported := make(chan fl.Message, 1)
	pubsub.On("Publish", mock.Anything, topics.ServerTopic(), mock.Anything).Run(func(args mock.Arguments) {
		reported <- args.Get(2).(fl.Message)
	}).Return(nil).Once()

	stopped := make(chan error, 1)
	go func() {
		stopped <- p.Run(context.Background(), pubsub)
	}()
	handler := <-handlers

	assert.Error(t, handler(topics.ClientTopic(clientID), []byte("{")))

	require.NoError(t, handler(topics.ClientTopic(clientID), toJSON(t, fl.NewInitConfig(clientID, 0, encode(t, fl.Params{"w": {1}})))))
	select {
	case msg := <-reported:
		assert.Equal(t, clientID, msg.Sender)
	case <-time.After(time.Second):
		t.Fatal("participant did not report its model")
	}

	require.Eventually(t, func() bool {
		return p.State() == participant.StateAwaitingRound
	}, time.Second, time.Millisecond)
	require.NoError(t, handler(topics.ClientTopic(clientID), toJSON(t, fl.NewFinish(clientID, 1))))

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("participant did not stop after finish")
	}
}

func toJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}
