package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/storage"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateIdle            State = "IDLE"
	StateAwaitingUpdates State = "AWAITING_UPDATES"
	StateAggregating     State = "AGGREGATING"
	StateEvaluating      State = "EVALUATING"
	StateAdvancing       State = "ADVANCING"
	StateTerminated      State = "TERMINATED"
)

// TimeoutPolicy decides what happens to a round whose deadline passed.
type TimeoutPolicy string

const (
	// PolicyWait keeps waiting for every expected client.
	PolicyWait TimeoutPolicy = "wait"
	// PolicyDrop excludes clients that have not reported and aggregates the rest.
	PolicyDrop TimeoutPolicy = "drop"
	// PolicyAbort discards the received updates and resends the round.
	PolicyAbort TimeoutPolicy = "abort"
)

const maxConcurrentSends = 16

var defBatchSelection = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

func ParseTimeoutPolicy(s string) (TimeoutPolicy, error) {
	switch p := TimeoutPolicy(s); p {
	case PolicyWait, PolicyDrop, PolicyAbort:
		return p, nil
	case "":
		return PolicyWait, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTimeoutPolicy, s)
	}
}

type Config struct {
	RoundNum        int
	ClientsPerRound int
	BatchSelection  []int
	// RoundTimeout of zero blocks each round until every client reported.
	RoundTimeout    time.Duration
	TimeoutPolicy   TimeoutPolicy
	MinParticipants int
}

func (c Config) Validate() error {
	switch {
	case c.RoundNum <= 0:
		return fmt.Errorf("%w: round number must be positive", ErrInvalidConfig)
	case c.ClientsPerRound <= 0:
		return fmt.Errorf("%w: clients per round must be positive", ErrInvalidConfig)
	case c.RoundTimeout < 0:
		return fmt.Errorf("%w: round timeout must not be negative", ErrInvalidConfig)
	case c.MinParticipants > c.ClientsPerRound:
		return fmt.Errorf("%w: min participants exceeds clients per round", ErrInvalidConfig)
	}
	if _, err := ParseTimeoutPolicy(string(c.TimeoutPolicy)); err != nil {
		return err
	}

	return nil
}

// Transport delivers coordinator messages to clients.
type Transport interface {
	Send(ctx context.Context, msg fl.Message) error
	// Stop ends delivery of client updates to the coordinator.
	Stop(ctx context.Context) error
}

type RoundStatus struct {
	State        State     `json:"state"`
	RoundIndex   int       `json:"round_index"`
	RoundNum     int       `json:"round_num"`
	Attempt      int       `json:"attempt"`
	Expected     int       `json:"expected"`
	Received     []int     `json:"received"`
	Excluded     []int     `json:"excluded,omitempty"`
	Undelivered  []int     `json:"undelivered,omitempty"`
	ModelVersion int       `json:"model_version"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

type Option func(*Coordinator)

func WithCodec(codec fl.Codec) Option {
	return func(c *Coordinator) {
		c.codec = codec
	}
}

func WithPartitionPolicy(p fl.PartitionPolicy) Option {
	return func(c *Coordinator) {
		c.partitions = p
	}
}

// WithModelStore exports every aggregated model to store.
func WithModelStore(store *fl.ModelStore) Option {
	return func(c *Coordinator) {
		c.models = store
	}
}

// WithRoundRepository records every finished round attempt.
func WithRoundRepository(repo storage.RoundRepository) Option {
	return func(c *Coordinator) {
		c.rounds = repo
	}
}

// Coordinator drives training rounds. Every state transition happens while
// holding mu, so at most one aggregation runs per round.
type Coordinator struct {
	mu         sync.Mutex
	cfg        Config
	aggregator *Aggregator
	registry   *ClientRegistry
	transport  Transport
	codec      fl.Codec
	partitions fl.PartitionPolicy
	models     *fl.ModelStore
	rounds     storage.RoundRepository
	logger     *slog.Logger

	state        State
	roundIdx     int
	attempt      int
	members      []int
	excluded     map[int]bool
	undelivered  map[int]fl.Message
	roundStarted time.Time
	startedAt    time.Time
	done         chan struct{}
}

func New(cfg Config, aggregator *Aggregator, registry *ClientRegistry, transport Transport, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TimeoutPolicy == "" {
		cfg.TimeoutPolicy = PolicyWait
	}
	if cfg.MinParticipants <= 0 {
		cfg.MinParticipants = 1
	}
	if len(cfg.BatchSelection) == 0 {
		cfg.BatchSelection = defBatchSelection
	}

	c := &Coordinator{
		cfg:         cfg,
		aggregator:  aggregator,
		registry:    registry,
		transport:   transport,
		codec:       fl.JSONCodec{},
		partitions:  fl.NewDistinctPartitions(cfg.ClientsPerRound, cfg.ClientsPerRound),
		logger:      logger,
		state:       StateIdle,
		excluded:    make(map[int]bool),
		undelivered: make(map[int]fl.Message),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// SendInitMsg sends the initial global model to clients 1..ClientsPerRound
// and opens round 0.
func (c *Coordinator) SendInitMsg(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrAlreadyStarted
	}

	members := make([]int, 0, c.cfg.ClientsPerRound)
	for id := 1; id <= c.cfg.ClientsPerRound; id++ {
		if !c.registry.Contains(id) {
			return fmt.Errorf("%w: %d of %d registered", ErrInsufficientClients, c.registry.Count(), c.cfg.ClientsPerRound)
		}
		members = append(members, id)
	}

	c.members = members
	c.roundIdx = 0
	c.startedAt = time.Now()
	c.logger.Info("starting training rounds",
		slog.Int("round_num", c.cfg.RoundNum),
		slog.Int("clients_per_round", c.cfg.ClientsPerRound),
	)

	if err := c.openRound(ctx, fl.MsgInitConfig); err != nil {
		// Stay startable so every member receives the initial model.
		c.state = StateIdle
		c.members = nil
		clear(c.undelivered)

		return err
	}

	return nil
}

// HandleUpdate processes a client model update. Validation, buffering,
// aggregation and the advance or terminate decision run as one critical section.
func (c *Coordinator) HandleUpdate(ctx context.Context, msg fl.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateTerminated:
		return fl.ErrLateMessage
	case StateIdle:
		return ErrRoundNotStarted
	}

	if msg.Type != fl.MsgSendModelToServer {
		return fmt.Errorf("%w: unexpected message type %s", fl.ErrMalformedUpdate, msg.Type)
	}
	if !c.isMember(msg.Sender) {
		return fmt.Errorf("%w: sender %d", fl.ErrUnknownClient, msg.Sender)
	}
	switch {
	case msg.RoundIndex < c.roundIdx:
		return fmt.Errorf("%w: round %d, current %d", fl.ErrStaleUpdate, msg.RoundIndex, c.roundIdx)
	case msg.RoundIndex > c.roundIdx:
		return fmt.Errorf("%w: round %d has not started", fl.ErrMalformedUpdate, msg.RoundIndex)
	case msg.NumSamples < 0:
		return fmt.Errorf("%w: negative sample count %d", fl.ErrMalformedUpdate, msg.NumSamples)
	}

	params, err := c.codec.Decode(msg.ModelParams)
	if err != nil {
		return err
	}
	if err := c.aggregator.Validate(msg.Sender-1, params); err != nil {
		return fmt.Errorf("%w: %w", fl.ErrMalformedUpdate, err)
	}

	c.aggregator.AddLocalTrainedResult(msg.Sender-1, params, msg.NumSamples)
	allReceived := c.aggregator.CheckWhetherAllReceive()
	c.logger.Debug("received client update",
		slog.Int("round", c.roundIdx),
		slog.Int("sender", msg.Sender),
		slog.Int("num_samples", msg.NumSamples),
		slog.Bool("all_received", allReceived),
	)
	if !allReceived {
		return nil
	}

	return c.completeRound(ctx)
}

// CheckDeadline resends round messages that failed to reach a client and
// applies the timeout policy when the current round is overdue.
func (c *Coordinator) CheckDeadline(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAwaitingUpdates {
		c.redeliver(ctx)
	}
	if c.cfg.RoundTimeout <= 0 || c.state != StateAwaitingUpdates || time.Since(c.roundStarted) < c.cfg.RoundTimeout {
		return nil
	}

	received := c.receivedClients()
	missing := slices.DeleteFunc(slices.Clone(c.activeMembers()), func(id int) bool {
		return slices.Contains(received, id)
	})
	args := []any{
		slog.Int("round", c.roundIdx),
		slog.String("policy", string(c.cfg.TimeoutPolicy)),
		slog.Any("missing", missing),
	}

	switch c.cfg.TimeoutPolicy {
	case PolicyDrop:
		if len(received) < c.cfg.MinParticipants {
			c.logger.Warn("round deadline passed without enough updates", args...)
			c.roundStarted = time.Now()

			return nil
		}
		for _, id := range missing {
			c.excluded[id] = true
		}
		if err := c.aggregator.SetExpected(len(received)); err != nil {
			return err
		}
		c.logger.Warn("round deadline passed, excluding clients", args...)

		if err := c.completeRound(ctx); err != nil {
			c.roundStarted = time.Now()

			return err
		}

		return nil
	case PolicyAbort:
		c.logger.Warn("round deadline passed, restarting round", args...)
		c.recordRound(ctx, fl.OutcomeAborted, received, c.aggregator.TotalSamples())
		c.aggregator.Discard()
		c.attempt++
		msgType := fl.MsgSyncModelToClient
		if c.roundIdx == 0 {
			msgType = fl.MsgInitConfig
		}

		return c.resendRound(ctx, msgType)
	default:
		c.logger.Warn("round deadline passed, still waiting", args...)
		c.roundStarted = time.Now()

		return nil
	}
}

func (c *Coordinator) Status() RoundStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs := c.aggregator.RoundState()
	status := RoundStatus{
		State:        c.state,
		RoundIndex:   c.roundIdx,
		RoundNum:     c.cfg.RoundNum,
		Attempt:      c.attempt,
		Expected:     rs.Expected,
		Received:     c.receivedClients(),
		ModelVersion: rs.RoundIndex,
		StartedAt:    c.roundStarted,
	}
	for id := range c.excluded {
		status.Excluded = append(status.Excluded, id)
	}
	slices.Sort(status.Excluded)
	status.Undelivered = slices.Sorted(maps.Keys(c.undelivered))

	return status
}

// Done is closed once the coordinator terminated.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) completeRound(ctx context.Context) error {
	received := c.receivedClients()
	totalSamples := c.aggregator.TotalSamples()

	c.state = StateAggregating
	model, err := c.aggregator.Aggregate()
	if err != nil {
		c.state = StateAwaitingUpdates
		c.logger.Error("round aggregation failed", slog.Int("round", c.roundIdx), slog.Any("error", err))

		return fmt.Errorf("round %d aggregation failed: %w", c.roundIdx, err)
	}
	c.recordRound(ctx, fl.OutcomeAggregated, received, totalSamples)
	c.exportModel(model)

	c.state = StateEvaluating
	c.aggregator.TestOnServerForAllClients(ctx, c.roundIdx, c.cfg.BatchSelection)

	c.logger.Info("round completed",
		slog.Int("round", c.roundIdx),
		slog.Any("participants", received),
		slog.Int("total_samples", totalSamples),
		slog.Duration("elapsed", time.Since(c.startedAt)),
	)

	c.roundIdx++
	if c.roundIdx == c.cfg.RoundNum {
		return c.terminate(ctx)
	}

	c.state = StateAdvancing
	if err := c.openRound(ctx, fl.MsgSyncModelToClient); err != nil {
		if len(c.undelivered) == 0 {
			return err
		}
		c.logger.Warn("round opened with undelivered sync messages",
			slog.Int("round", c.roundIdx),
			slog.Any("undelivered", slices.Sorted(maps.Keys(c.undelivered))),
		)
	}

	return nil
}

// openRound resets per-round bookkeeping and sends the global model to members.
func (c *Coordinator) openRound(ctx context.Context, msgType fl.MessageType) error {
	c.attempt = 0
	clear(c.excluded)
	clear(c.undelivered)
	if err := c.aggregator.SetExpected(len(c.members)); err != nil {
		return err
	}

	return c.resendRound(ctx, msgType)
}

func (c *Coordinator) resendRound(ctx context.Context, msgType fl.MessageType) error {
	params, err := c.codec.Encode(c.aggregator.GlobalModelParams())
	if err != nil {
		return fmt.Errorf("failed to encode global model: %w", err)
	}

	c.state = StateAwaitingUpdates
	c.roundStarted = time.Now()

	round := c.roundIdx

	return c.broadcast(ctx, func(id int) fl.Message {
		partition := c.partitions.Assign(round, id-1)
		if msgType == fl.MsgInitConfig {
			return fl.NewInitConfig(id, partition, params)
		}

		return fl.NewSyncModelToClient(id, round, partition, params)
	})
}

func (c *Coordinator) terminate(ctx context.Context) error {
	c.state = StateTerminated
	c.logger.Info("training finished",
		slog.Int("rounds", c.roundIdx),
		slog.Duration("elapsed", time.Since(c.startedAt)),
	)

	round := c.roundIdx
	err := c.broadcast(ctx, func(id int) fl.Message {
		return fl.NewFinish(id, round)
	})
	if stopErr := c.transport.Stop(ctx); stopErr != nil {
		c.logger.Warn("failed to stop transport", slog.Any("error", stopErr))
	}
	close(c.done)

	return err
}

// broadcast sends one message per member. Messages that could not be sent
// are kept for redeliver.
func (c *Coordinator) broadcast(ctx context.Context, build func(id int) fl.Message) error {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(maxConcurrentSends)
	clear(c.undelivered)

	for _, id := range c.members {
		msg := build(id)
		g.Go(func() error {
			if err := c.transport.Send(ctx, msg); err != nil {
				c.logger.Error("failed to send message",
					slog.String("type", msg.Type.String()),
					slog.Int("receiver", id),
					slog.Any("error", err),
				)
				mu.Lock()
				c.undelivered[id] = msg
				mu.Unlock()

				return fmt.Errorf("send %s to client %d: %w", msg.Type, id, err)
			}

			return nil
		})
	}

	return g.Wait()
}

// redeliver retries the round messages broadcast failed to send.
func (c *Coordinator) redeliver(ctx context.Context) {
	for _, id := range slices.Sorted(maps.Keys(c.undelivered)) {
		if c.excluded[id] {
			delete(c.undelivered, id)

			continue
		}
		msg := c.undelivered[id]
		if err := c.transport.Send(ctx, msg); err != nil {
			c.logger.Warn("failed to resend message",
				slog.String("type", msg.Type.String()),
				slog.Int("receiver", id),
				slog.Any("error", err),
			)

			continue
		}
		delete(c.undelivered, id)
		c.logger.Info("resent message", slog.String("type", msg.Type.String()), slog.Int("receiver", id))
	}
}

func (c *Coordinator) recordRound(ctx context.Context, outcome string, received []int, totalSamples int) {
	if c.rounds == nil {
		return
	}

	rec := fl.RoundRecord{
		Index:        c.roundIdx,
		Attempt:      c.attempt,
		Outcome:      outcome,
		Participants: received,
		TotalSamples: totalSamples,
		StartedAt:    c.roundStarted.UTC(),
		CompletedAt:  time.Now().UTC(),
	}
	if err := c.rounds.Create(ctx, rec); err != nil {
		c.logger.Warn("failed to record round", slog.Int("round", c.roundIdx), slog.Any("error", err))
	}
}

func (c *Coordinator) exportModel(model fl.GlobalModel) {
	if c.models == nil {
		return
	}
	if err := c.models.SaveModel(model); err != nil {
		c.logger.Warn("failed to export global model", slog.Int("version", model.Round), slog.Any("error", err))
	}
}

func (c *Coordinator) isMember(clientID int) bool {
	return slices.Contains(c.members, clientID) && !c.excluded[clientID] && c.registry.Contains(clientID)
}

func (c *Coordinator) activeMembers() []int {
	return slices.DeleteFunc(slices.Clone(c.members), func(id int) bool {
		return c.excluded[id]
	})
}

// receivedClients maps buffered client indexes back to client ids.
func (c *Coordinator) receivedClients() []int {
	received := c.aggregator.Received()
	for i := range received {
		received[i]++
	}

	return received
}
