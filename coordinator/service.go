package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/mqtt"
	"github.com/absmach/fedcoord/pkg/storage"
)

// DatasetPath is the HTTP path prefix under which preprocessed client
// datasets are downloaded.
const DatasetPath = "/get-preprocessed-data/"

const startRetryDelay = 5 * time.Second

type Service interface {
	// Register assigns a client id to the device and returns the training
	// arguments the participant needs to join.
	Register(ctx context.Context, deviceID string) (Registration, error)
	ListClients(ctx context.Context, offset, limit uint64) (ClientPage, error)

	// StartRounds sends the initial model to every participant of round 0.
	StartRounds(ctx context.Context) error
	HandleUpdate(ctx context.Context, msg fl.Message) error
	RoundStatus(ctx context.Context) (RoundStatus, error)
	ListRounds(ctx context.Context, offset, limit uint64) (RoundPage, error)
	GlobalModel(ctx context.Context) (fl.GlobalModel, error)
}

type Registration struct {
	fl.Registration
	Topic string          `json:"topic"`
	Args  fl.TrainingArgs `json:"training_task_args"`
}

type ClientPage struct {
	Offset  uint64            `json:"offset"`
	Limit   uint64            `json:"limit"`
	Total   uint64            `json:"total"`
	Clients []fl.Registration `json:"clients"`
}

type RoundPage struct {
	Offset uint64           `json:"offset"`
	Limit  uint64           `json:"limit"`
	Total  uint64           `json:"total"`
	Rounds []fl.RoundRecord `json:"rounds"`
}

type ServiceConfig struct {
	Args fl.TrainingArgs
	// DatasetRoot is the base URL of the dataset server. When set, every
	// client gets the URL of its own partition, named by its zero-based index.
	DatasetRoot string
	// AutoStart starts the rounds StartDelay after enough clients registered.
	AutoStart       bool
	StartDelay      time.Duration
	StartRetryDelay time.Duration
}

type service struct {
	coordinator *Coordinator
	registry    *ClientRegistry
	aggregator  *Aggregator
	rounds      storage.RoundRepository
	topics      *mqtt.TopicBuilder
	cfg         ServiceConfig
	logger      *slog.Logger

	startOnce sync.Once
}

func NewService(c *Coordinator, registry *ClientRegistry, aggregator *Aggregator, rounds storage.RoundRepository, topics *mqtt.TopicBuilder, cfg ServiceConfig, logger *slog.Logger) Service {
	return &service{
		coordinator: c,
		registry:    registry,
		aggregator:  aggregator,
		rounds:      rounds,
		topics:      topics,
		cfg:         cfg,
		logger:      logger,
	}
}

func (svc *service) Register(ctx context.Context, deviceID string) (Registration, error) {
	reg, err := svc.registry.Register(ctx, deviceID)
	if err != nil {
		return Registration{}, err
	}

	if svc.cfg.AutoStart && svc.registry.Count() >= svc.coordinator.cfg.ClientsPerRound {
		svc.startOnce.Do(svc.scheduleStart)
	}

	args := svc.cfg.Args
	if svc.cfg.DatasetRoot != "" {
		args.DatasetURL = strings.TrimSuffix(svc.cfg.DatasetRoot, "/") + DatasetPath + strconv.Itoa(reg.ClientID-1)
	}

	return Registration{
		Registration: reg,
		Topic:        svc.topics.ClientTopic(reg.ClientID),
		Args:         args,
	}, nil
}

func (svc *service) ListClients(ctx context.Context, offset, limit uint64) (ClientPage, error) {
	return svc.registry.List(ctx, offset, limit)
}

func (svc *service) StartRounds(ctx context.Context) error {
	return svc.coordinator.SendInitMsg(ctx)
}

func (svc *service) HandleUpdate(ctx context.Context, msg fl.Message) error {
	return svc.coordinator.HandleUpdate(ctx, msg)
}

func (svc *service) RoundStatus(_ context.Context) (RoundStatus, error) {
	return svc.coordinator.Status(), nil
}

func (svc *service) ListRounds(ctx context.Context, offset, limit uint64) (RoundPage, error) {
	page := RoundPage{
		Offset: offset,
		Limit:  limit,
		Rounds: []fl.RoundRecord{},
	}
	if svc.rounds == nil {
		return page, nil
	}

	rounds, total, err := svc.rounds.List(ctx, offset, limit)
	if err != nil {
		return RoundPage{}, err
	}
	page.Total = total
	page.Rounds = rounds

	return page, nil
}

func (svc *service) GlobalModel(_ context.Context) (fl.GlobalModel, error) {
	return svc.aggregator.GlobalModel(), nil
}

func (svc *service) scheduleStart() {
	svc.logger.Info("enough clients registered, scheduling training start",
		slog.Int("clients", svc.registry.Count()),
		slog.Duration("delay", svc.cfg.StartDelay),
	)
	time.AfterFunc(svc.cfg.StartDelay, svc.autoStart)
}

// autoStart keeps retrying until the rounds are started.
func (svc *service) autoStart() {
	err := svc.coordinator.SendInitMsg(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyStarted):
		svc.logger.Info("training rounds were started manually")
	default:
		svc.logger.Error("failed to start training rounds, retrying",
			slog.Duration("retry_in", svc.retryDelay()),
			slog.Any("error", err),
		)
		time.AfterFunc(svc.retryDelay(), svc.autoStart)
	}
}

func (svc *service) retryDelay() time.Duration {
	if svc.cfg.StartRetryDelay > 0 {
		return svc.cfg.StartRetryDelay
	}

	return startRetryDelay
}
