package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedcoord"
	"github.com/absmach/fedcoord/participant"
	"github.com/absmach/fedcoord/pkg/mqtt"
	"github.com/absmach/fedcoord/pkg/registry"
	"github.com/absmach/fedcoord/pkg/sdk"
	"github.com/absmach/fedcoord/pkg/trainer"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const pathEnv = ".env"

type envConfig struct {
	LogLevel        string        `env:"PARTICIPANT_LOG_LEVEL"        envDefault:"info"`
	ConfigPath      string        `env:"PARTICIPANT_CONFIG"           envDefault:"config.toml"`
	DeviceID        string        `env:"PARTICIPANT_DEVICE_ID"`
	CoordinatorURL  string        `env:"PARTICIPANT_COORDINATOR_URL"  envDefault:"http://localhost:7070"`
	TLSVerification bool          `env:"PARTICIPANT_TLS_VERIFICATION" envDefault:"false"`
	MQTTAddress     string        `env:"PARTICIPANT_MQTT_ADDRESS"`
	MQTTQoS         uint8         `env:"PARTICIPANT_MQTT_QOS"         envDefault:"2"`
	MQTTTimeout     time.Duration `env:"PARTICIPANT_MQTT_TIMEOUT"     envDefault:"30s"`
	ClientID        string        `env:"PARTICIPANT_CLIENT_ID"`
	ClientKey       string        `env:"PARTICIPANT_CLIENT_KEY"`
	DomainID        string        `env:"PARTICIPANT_DOMAIN_ID"`
	Trainer         string        `env:"PARTICIPANT_TRAINER"`
	DataDir         string        `env:"PARTICIPANT_DATA_DIR"`
	SampleCount     int           `env:"PARTICIPANT_SAMPLE_COUNT"     envDefault:"1"`
	WasmFile        string        `env:"PARTICIPANT_WASM_FILE"`
	WasmImage       string        `env:"PARTICIPANT_WASM_IMAGE"`

	Registry registry.Config `envPrefix:"PARTICIPANT_"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := configureLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if _, err := os.Stat(cfg.ConfigPath); err == nil {
		fileCfg, err := fedcoord.LoadConfig(cfg.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
		cfg.DeviceID = fedcoord.Override(cfg.DeviceID, fileCfg.Participant.DeviceID)
		cfg.ClientID = fedcoord.Override(cfg.ClientID, fileCfg.Participant.ClientID)
		cfg.ClientKey = fedcoord.Override(cfg.ClientKey, fileCfg.Participant.ClientKey)
		cfg.DomainID = fedcoord.Override(cfg.DomainID, fileCfg.Participant.DomainID)
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = namegenerator.NewGenerator().Generate()
	}

	wasmBinary, err := loadWasm(ctx, cfg, logger)
	if err != nil {
		return err
	}

	fsdk := sdk.NewSDK(sdk.Config{
		CoordinatorURL:  cfg.CoordinatorURL,
		TLSVerification: cfg.TLSVerification,
	})

	p := participant.New(participant.Config{
		DeviceID:    cfg.DeviceID,
		DomainID:    cfg.DomainID,
		TrainerName: cfg.Trainer,
		Trainer: trainer.Config{
			DataDir:     cfg.DataDir,
			WasmBinary:  wasmBinary,
			SampleCount: cfg.SampleCount,
		},
	}, fsdk, trainer.NewRegistry(), logger)

	logger.Info("registering with coordinator", slog.String("device_id", cfg.DeviceID), slog.String("url", cfg.CoordinatorURL))
	args, err := p.Register(ctx)
	if err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	address := cfg.MQTTAddress
	if address == "" {
		address = args.BrokerURL()
	}
	pubsub, err := mqtt.NewPubSub(mqtt.Config{
		URL:       address,
		QoS:       cfg.MQTTQoS,
		ID:        cfg.DeviceID,
		Username:  cfg.ClientID,
		Password:  cfg.ClientKey,
		DomainID:  cfg.DomainID,
		ChannelID: args.ChannelID,
		Timeout:   cfg.MQTTTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker %q: %w", address, err)
	}
	defer func() {
		if err := pubsub.Disconnect(context.WithoutCancel(ctx)); err != nil {
			logger.Error("error disconnecting mqtt client", slog.Any("error", err))
		}
	}()

	if err := p.Run(ctx, pubsub); err != nil {
		return fmt.Errorf("participant run error: %w", err)
	}
	logger.Info("participant stopped", slog.String("state", string(p.State())))

	return nil
}

func configureLogger(level string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("Invalid log level: %s. Defaulting to info.\n", level)
		logLevel = slog.LevelInfo
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(logHandler)
}

func loadWasm(ctx context.Context, cfg envConfig, logger *slog.Logger) ([]byte, error) {
	switch {
	case cfg.WasmFile != "":
		logger.Info("loading wasm trainer", slog.String("path", cfg.WasmFile))
		data, err := os.ReadFile(cfg.WasmFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read WASM file: %w", err)
		}

		return data, nil
	case cfg.WasmImage != "":
		data, err := cfg.Registry.Fetch(ctx, cfg.WasmImage)
		if err != nil {
			return nil, fmt.Errorf("failed to pull WASM image: %w", err)
		}
		logger.Info("pulled wasm trainer", slog.String("image", cfg.WasmImage), slog.Int("size_bytes", len(data)))

		return data, nil
	default:
		return nil, nil
	}
}
