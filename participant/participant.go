// Package participant implements the client side of a training round: it
// registers with the coordinator, trains on every model it receives and
// reports the result back.
package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/mqtt"
	"github.com/absmach/fedcoord/pkg/sdk"
	"github.com/absmach/fedcoord/pkg/trainer"
)

type State string

const (
	StateUnregistered  State = "UNREGISTERED"
	StateRegistered    State = "REGISTERED"
	StateAwaitingRound State = "AWAITING_ROUND"
	StateTraining      State = "TRAINING"
	StateReporting     State = "REPORTING"
	StateDone          State = "DONE"
)

var (
	ErrBusy          = errors.New("participant is busy training")
	ErrNotRegistered = errors.New("participant is not registered")
	ErrNotListening  = errors.New("participant is not waiting for rounds")
)

// Registrar obtains a client id from the coordinator.
type Registrar interface {
	Register(deviceID string) (sdk.Registration, error)
}

type Config struct {
	DeviceID string
	DomainID string
	// TrainerName overrides the trainer named in the training arguments.
	TrainerName string
	Trainer     trainer.Config
}

type Participant struct {
	mu        sync.Mutex
	cfg       Config
	registrar Registrar
	trainers  *trainer.Registry
	logger    *slog.Logger

	state    State
	clientID int
	args     fl.TrainingArgs
	codec    fl.Codec
	trainer  trainer.Trainer
	pubsub   mqtt.PubSub
	topics   *mqtt.TopicBuilder
	done     chan struct{}
}

func New(cfg Config, registrar Registrar, trainers *trainer.Registry, logger *slog.Logger) *Participant {
	return &Participant{
		cfg:       cfg,
		registrar: registrar,
		trainers:  trainers,
		logger:    logger,
		state:     StateUnregistered,
		done:      make(chan struct{}),
	}
}

// Register obtains the client id and prepares the codec and trainer named in
// the returned training arguments.
func (p *Participant) Register(_ context.Context) (fl.TrainingArgs, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateUnregistered {
		return p.args, nil
	}

	reg, err := p.registrar.Register(p.cfg.DeviceID)
	if err != nil {
		return fl.TrainingArgs{}, fmt.Errorf("failed to register device %s: %w", p.cfg.DeviceID, err)
	}
	if reg.ClientID <= 0 {
		return fl.TrainingArgs{}, fmt.Errorf("coordinator assigned invalid client id %d", reg.ClientID)
	}

	codec, err := fl.NewCodec(reg.Args.Codec)
	if err != nil {
		return fl.TrainingArgs{}, err
	}

	name := p.cfg.TrainerName
	if name == "" {
		name = reg.Args.Trainer
	}
	if name == "" {
		name = trainer.IdentityName
	}
	tcfg := p.cfg.Trainer
	tcfg.Args = reg.Args
	if tcfg.DataDir == "" {
		tcfg.DataDir = reg.Args.DataDir
	}
	tr, err := p.trainers.New(name, tcfg)
	if err != nil {
		return fl.TrainingArgs{}, err
	}

	p.clientID = reg.ClientID
	p.args = reg.Args
	p.codec = codec
	p.trainer = tr
	p.state = StateRegistered
	p.logger.Info("registered with coordinator",
		slog.String("device_id", p.cfg.DeviceID),
		slog.Int("client_id", p.clientID),
		slog.String("trainer", name),
		slog.String("codec", codec.Name()),
	)

	return reg.Args, nil
}

// Run listens for models on the participant's topic until training finished
// or ctx is done.
func (p *Participant) Run(ctx context.Context, pubsub mqtt.PubSub) error {
	p.mu.Lock()
	if p.state != StateRegistered {
		p.mu.Unlock()

		return ErrNotRegistered
	}
	p.pubsub = pubsub
	p.topics = mqtt.NewTopicBuilder(p.cfg.DomainID, p.args.ChannelID)
	topic := p.topics.ClientTopic(p.clientID)
	p.state = StateAwaitingRound
	p.mu.Unlock()

	if err := pubsub.Subscribe(ctx, topic, p.handle(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to client topic: %w", err)
	}
	p.logger.Info("waiting for training rounds", slog.String("topic", topic))

	select {
	case <-ctx.Done():
	case <-p.done:
		p.logger.Info("training finished")
	}

	return pubsub.Unsubscribe(context.WithoutCancel(ctx), topic)
}

// HandleModel trains on an init or sync message and reports the result, or
// finishes on a finish message.
func (p *Participant) HandleModel(ctx context.Context, msg fl.Message) error {
	p.mu.Lock()
	switch p.state {
	case StateDone:
		p.mu.Unlock()

		return fl.ErrLateMessage
	case StateAwaitingRound, StateTraining, StateReporting:
	default:
		p.mu.Unlock()

		return ErrNotListening
	}
	if msg.Receiver != p.clientID {
		p.mu.Unlock()

		return fmt.Errorf("%w: message for client %d", fl.ErrUnknownClient, msg.Receiver)
	}

	switch msg.Type {
	case fl.MsgFinish:
		p.state = StateDone
		close(p.done)
		p.mu.Unlock()

		return nil
	case fl.MsgInitConfig, fl.MsgSyncModelToClient:
	default:
		p.mu.Unlock()

		return fmt.Errorf("%w: unexpected message type %s", fl.ErrMalformedUpdate, msg.Type)
	}

	// A model may arrive while the previous report is still being
	// acknowledged, but never while training.
	if p.state == StateTraining {
		p.mu.Unlock()

		return ErrBusy
	}

	params, err := p.codec.Decode(msg.ModelParams)
	if err != nil {
		p.mu.Unlock()

		return err
	}
	partition, err := msg.Partition()
	if err != nil {
		partition = p.clientID - 1
	}
	p.state = StateTraining
	p.mu.Unlock()

	p.logger.Info("training local model",
		slog.Int("round", msg.RoundIndex),
		slog.Int("partition", partition),
	)
	trained, numSamples, err := p.trainer.Train(ctx, params, partition)
	if err != nil {
		p.transition(StateTraining, StateAwaitingRound)

		return fmt.Errorf("round %d training failed: %w", msg.RoundIndex, err)
	}

	return p.report(ctx, msg.RoundIndex, trained, numSamples)
}

func (p *Participant) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

func (p *Participant) ClientID() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.clientID
}

func (p *Participant) Done() <-chan struct{} {
	return p.done
}

func (p *Participant) report(ctx context.Context, round int, params fl.Params, numSamples int) error {
	// Training finished while this round was running.
	if !p.transition(StateTraining, StateReporting) {
		return nil
	}
	defer p.transition(StateReporting, StateAwaitingRound)

	data, err := p.codec.Encode(params)
	if err != nil {
		return fmt.Errorf("failed to encode local model: %w", err)
	}
	msg := fl.NewSendModelToServer(p.clientID, round, numSamples, data)
	if err := p.pubsub.Publish(ctx, p.topics.ServerTopic(), msg); err != nil {
		return fmt.Errorf("failed to report round %d: %w", round, err)
	}
	p.logger.Info("reported local model",
		slog.Int("round", round),
		slog.Int("num_samples", numSamples),
	)

	return nil
}

// transition moves from one state to another and reports whether the
// participant was in the expected state.
func (p *Participant) transition(from, to State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != from {
		return false
	}
	p.state = to

	return true
}
