package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/absmach/fedcoord"
	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/coordinator/api"
	"github.com/absmach/fedcoord/coordinator/middleware"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/mqtt"
	"github.com/absmach/fedcoord/pkg/registry"
	"github.com/absmach/fedcoord/pkg/storage"
	"github.com/absmach/fedcoord/pkg/trainer"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "coordinator"
	defHTTPPort   = "7070"
	envPrefixHTTP = "COORDINATOR_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel    string        `env:"COORDINATOR_LOG_LEVEL"    envDefault:"info"`
	InstanceID  string        `env:"COORDINATOR_INSTANCE_ID"`
	ConfigPath  string        `env:"COORDINATOR_CONFIG"       envDefault:"config.toml"`
	MQTTAddress string        `env:"COORDINATOR_MQTT_ADDRESS" envDefault:"tcp://localhost:1883"`
	MQTTQoS     uint8         `env:"COORDINATOR_MQTT_QOS"     envDefault:"2"`
	MQTTTimeout time.Duration `env:"COORDINATOR_MQTT_TIMEOUT" envDefault:"30s"`
	ClientID    string        `env:"COORDINATOR_CLIENT_ID"`
	ClientKey   string        `env:"COORDINATOR_CLIENT_KEY"`
	DomainID    string        `env:"COORDINATOR_DOMAIN_ID"`
	ChannelID   string        `env:"COORDINATOR_CHANNEL_ID"`
	OTELURL     url.URL       `env:"COORDINATOR_OTEL_URL"`
	TraceRatio  float64       `env:"COORDINATOR_TRACE_RATIO"  envDefault:"0"`

	RoundNum         int           `env:"COORDINATOR_ROUND_NUM"          envDefault:"10"`
	ClientsPerRound  int           `env:"COORDINATOR_CLIENTS_PER_ROUND"  envDefault:"2"`
	ClientsInTotal   int           `env:"COORDINATOR_CLIENTS_IN_TOTAL"   envDefault:"0"`
	RoundTimeout     time.Duration `env:"COORDINATOR_ROUND_TIMEOUT"      envDefault:"0s"`
	TimeoutPolicy    string        `env:"COORDINATOR_TIMEOUT_POLICY"     envDefault:"wait"`
	MinParticipants  int           `env:"COORDINATOR_MIN_PARTICIPANTS"   envDefault:"1"`
	DeadlineSchedule string        `env:"COORDINATOR_DEADLINE_SCHEDULE"  envDefault:"@every 1s"`
	AutoStart        bool          `env:"COORDINATOR_AUTO_START"         envDefault:"true"`
	StartDelay       time.Duration `env:"COORDINATOR_START_DELAY"        envDefault:"3s"`
	StartRetryDelay  time.Duration `env:"COORDINATOR_START_RETRY_DELAY"  envDefault:"5s"`
	DatasetRoot      string        `env:"COORDINATOR_DATASET_ROOT"`
	PreprocessedDir  string        `env:"COORDINATOR_PREPROCESSED_DATA_DIR"`
	Codec            string        `env:"COORDINATOR_CODEC"              envDefault:"json"`
	PartitionPolicy  string        `env:"COORDINATOR_PARTITION_POLICY"   envDefault:"distinct"`
	ModelsDir        string        `env:"COORDINATOR_MODELS_DIR"`
	InitialModel     string        `env:"COORDINATOR_INITIAL_MODEL"`
	Evaluator        string        `env:"COORDINATOR_EVALUATOR"          envDefault:"identity"`
	EvaluatorWasm    string        `env:"COORDINATOR_EVALUATOR_WASM"`
	EvaluatorImage   string        `env:"COORDINATOR_EVALUATOR_IMAGE"`
	EvaluatorDataDir string        `env:"COORDINATOR_EVALUATOR_DATA_DIR"`

	Training trainingConfig
	Storage  storage.Config
	Registry registry.Config `envPrefix:"COORDINATOR_"`
}

// trainingConfig is forwarded to participants at registration.
type trainingConfig struct {
	Dataset            string  `env:"COORDINATOR_DATASET"               envDefault:"mnist"`
	DataDir            string  `env:"COORDINATOR_DATA_DIR"              envDefault:"./data"`
	DatasetURL         string  `env:"COORDINATOR_DATASET_URL"`
	PartitionMethod    string  `env:"COORDINATOR_PARTITION_METHOD"      envDefault:"hetero"`
	PartitionAlpha     float64 `env:"COORDINATOR_PARTITION_ALPHA"       envDefault:"0.5"`
	Epochs             int     `env:"COORDINATOR_EPOCHS"                envDefault:"1"`
	LR                 float64 `env:"COORDINATOR_LR"                    envDefault:"0.03"`
	Momentum           float64 `env:"COORDINATOR_MOMENTUM"              envDefault:"0"`
	WeightDecay        float64 `env:"COORDINATOR_WEIGHT_DECAY"          envDefault:"0.001"`
	BatchSize          int     `env:"COORDINATOR_BATCH_SIZE"            envDefault:"32"`
	FrequencyOfTheTest int     `env:"COORDINATOR_FREQUENCY_OF_THE_TEST" envDefault:"1"`
	Backend            string  `env:"COORDINATOR_BACKEND"               envDefault:"MQTT"`
	MQTTHost           string  `env:"COORDINATOR_PUBLIC_MQTT_HOST"      envDefault:"localhost"`
	MQTTPort           int     `env:"COORDINATOR_PUBLIC_MQTT_PORT"      envDefault:"1883"`
	Method             string  `env:"COORDINATOR_METHOD"                envDefault:"fedavg"`
	Trainer            string  `env:"COORDINATOR_PARTICIPANT_TRAINER"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	if _, err := os.Stat(cfg.ConfigPath); err == nil {
		fileCfg, err := fedcoord.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logger.Error("failed to load config file", slog.String("path", cfg.ConfigPath), slog.String("error", err.Error()))

			return
		}
		cfg.ClientID = fedcoord.Override(cfg.ClientID, fileCfg.Coordinator.ClientID)
		cfg.ClientKey = fedcoord.Override(cfg.ClientKey, fileCfg.Coordinator.ClientKey)
		cfg.DomainID = fedcoord.Override(cfg.DomainID, fileCfg.Coordinator.DomainID)
		cfg.ChannelID = fedcoord.Override(cfg.ChannelID, fileCfg.Coordinator.ChannelID)
	}
	if cfg.ClientsInTotal == 0 {
		cfg.ClientsInTotal = cfg.ClientsPerRound
	}

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	repos, err := storage.NewRepositories(cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage", slog.String("type", cfg.Storage.Type), slog.String("error", err.Error()))

		return
	}
	defer func() {
		if err := repos.Close(); err != nil {
			logger.Error("error closing storage", slog.Any("error", err))
		}
	}()

	clients, err := coordinator.NewClientRegistry(ctx, repos.Clients)
	if err != nil {
		logger.Error("failed to load client registry", slog.String("error", err.Error()))

		return
	}

	var opts []coordinator.Option
	var modelStore *fl.ModelStore
	if cfg.ModelsDir != "" {
		modelStore, err = fl.NewModelStore(cfg.ModelsDir)
		if err != nil {
			logger.Error("failed to initialize model store", slog.String("error", err.Error()))

			return
		}
		opts = append(opts, coordinator.WithModelStore(modelStore))
	}

	initial, err := initialModel(modelStore, cfg.InitialModel, logger)
	if err != nil {
		logger.Error("failed to load initial model", slog.String("error", err.Error()))

		return
	}

	evaluator, err := newEvaluator(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize evaluator", slog.String("evaluator", cfg.Evaluator), slog.String("error", err.Error()))

		return
	}
	if closer, ok := evaluator.(interface{ Close(context.Context) error }); ok {
		defer closer.Close(context.WithoutCancel(ctx))
	}

	codec, err := fl.NewCodec(cfg.Codec)
	if err != nil {
		logger.Error("failed to initialize codec", slog.String("error", err.Error()))

		return
	}
	partitions, err := fl.NewPartitionPolicy(cfg.PartitionPolicy, cfg.ClientsPerRound, cfg.ClientsInTotal)
	if err != nil {
		logger.Error("failed to initialize partition policy", slog.String("error", err.Error()))

		return
	}
	policy, err := coordinator.ParseTimeoutPolicy(cfg.TimeoutPolicy)
	if err != nil {
		logger.Error("failed to parse timeout policy", slog.String("error", err.Error()))

		return
	}
	opts = append(opts,
		coordinator.WithCodec(codec),
		coordinator.WithPartitionPolicy(partitions),
		coordinator.WithRoundRepository(repos.Rounds),
	)

	mqttPubSub, err := mqtt.NewPubSub(mqtt.Config{
		URL:       cfg.MQTTAddress,
		QoS:       cfg.MQTTQoS,
		ID:        svcName + "-" + cfg.InstanceID,
		Username:  cfg.ClientID,
		Password:  cfg.ClientKey,
		DomainID:  cfg.DomainID,
		ChannelID: cfg.ChannelID,
		Timeout:   cfg.MQTTTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

		return
	}
	defer func() {
		if err := mqttPubSub.Disconnect(context.WithoutCancel(ctx)); err != nil {
			logger.Error("error disconnecting mqtt client", slog.Any("error", err))
		}
	}()
	topics := mqtt.NewTopicBuilder(cfg.DomainID, cfg.ChannelID)

	aggregator := coordinator.NewAggregator(initial, cfg.ClientsPerRound, evaluator, logger)
	c, err := coordinator.New(coordinator.Config{
		RoundNum:        cfg.RoundNum,
		ClientsPerRound: cfg.ClientsPerRound,
		RoundTimeout:    cfg.RoundTimeout,
		TimeoutPolicy:   policy,
		MinParticipants: cfg.MinParticipants,
	}, aggregator, clients, coordinator.NewMQTTTransport(mqttPubSub, topics), logger, opts...)
	if err != nil {
		logger.Error("failed to initialize coordinator", slog.String("error", err.Error()))

		return
	}

	svc := coordinator.NewService(c, clients, aggregator, repos.Rounds, topics, coordinator.ServiceConfig{
		Args:            trainingArgs(cfg, codec.Name()),
		DatasetRoot:     cfg.DatasetRoot,
		AutoStart:       cfg.AutoStart,
		StartDelay:      cfg.StartDelay,
		StartRetryDelay: cfg.StartRetryDelay,
	}, logger)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if err := coordinator.Subscribe(ctx, svc, mqttPubSub, topics, logger); err != nil {
		logger.Error("failed to subscribe to coordinator topics", slog.String("error", err.Error()))

		return
	}

	watcher, err := coordinator.NewDeadlineWatcher(c, cfg.DeadlineSchedule, logger)
	if err != nil {
		logger.Error("failed to initialize deadline watcher", slog.String("error", err.Error()))

		return
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID, cfg.PreprocessedDir), logger)

	g.Go(func() error {
		return watcher.Start(ctx)
	})

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
	watcher.Stop()
}

// initialModel seeds round 0 from the newest exported model, then from a
// parameter file, then from an empty model.
func initialModel(store *fl.ModelStore, path string, logger *slog.Logger) (fl.GlobalModel, error) {
	if store != nil {
		latest, err := store.LatestModel()
		switch {
		case err == nil:
			logger.Info("warm starting from exported model", slog.Int("round", latest.Round))

			return fl.GlobalModel{Params: latest.Params, UpdatedAt: time.Now().UTC()}, nil
		case !errors.Is(err, fl.ErrModelNotFound):
			return fl.GlobalModel{}, err
		}
	}

	if path == "" {
		return fl.GlobalModel{UpdatedAt: time.Now().UTC()}, nil
	}
	params, err := fl.LoadParams(path)
	if err != nil {
		return fl.GlobalModel{}, err
	}

	return fl.GlobalModel{Params: params, UpdatedAt: time.Now().UTC()}, nil
}

func newEvaluator(ctx context.Context, cfg envConfig, logger *slog.Logger) (trainer.Trainer, error) {
	tcfg := trainer.Config{DataDir: cfg.EvaluatorDataDir}

	switch {
	case cfg.EvaluatorWasm != "":
		data, err := os.ReadFile(cfg.EvaluatorWasm)
		if err != nil {
			return nil, fmt.Errorf("failed to read evaluator module: %w", err)
		}
		tcfg.WasmBinary = data
	case cfg.EvaluatorImage != "":
		data, err := cfg.Registry.Fetch(ctx, cfg.EvaluatorImage)
		if err != nil {
			return nil, fmt.Errorf("failed to pull evaluator module: %w", err)
		}
		logger.Info("pulled evaluator module", slog.String("image", cfg.EvaluatorImage), slog.Int("size_bytes", len(data)))
		tcfg.WasmBinary = data
	}

	return trainer.NewRegistry().New(cfg.Evaluator, tcfg)
}

func trainingArgs(cfg envConfig, codec string) fl.TrainingArgs {
	t := cfg.Training

	return fl.TrainingArgs{
		Dataset:            t.Dataset,
		DataDir:            t.DataDir,
		DatasetURL:         t.DatasetURL,
		PartitionMethod:    t.PartitionMethod,
		PartitionAlpha:     t.PartitionAlpha,
		ClientNumInTotal:   cfg.ClientsInTotal,
		ClientNumPerRound:  cfg.ClientsPerRound,
		CommRound:          cfg.RoundNum,
		Epochs:             t.Epochs,
		LR:                 t.LR,
		Momentum:           t.Momentum,
		WeightDecay:        t.WeightDecay,
		BatchSize:          t.BatchSize,
		FrequencyOfTheTest: t.FrequencyOfTheTest,
		Backend:            t.Backend,
		MQTTHost:           t.MQTTHost,
		MQTTPort:           t.MQTTPort,
		Method:             t.Method,
		ChannelID:          cfg.ChannelID,
		Codec:              codec,
		Trainer:            t.Trainer,
	}
}
