package fedcoord

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config holds the broker credentials of the coordinator and participants.
// Values set in the environment take precedence over the file.
type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Participant ParticipantConfig `toml:"participant"`
}

type CoordinatorConfig struct {
	ClientID  string `toml:"client_id"`
	ClientKey string `toml:"client_key"`
	DomainID  string `toml:"domain_id"`
	ChannelID string `toml:"channel_id"`
}

type ParticipantConfig struct {
	DeviceID  string `toml:"device_id"`
	ClientID  string `toml:"client_id"`
	ClientKey string `toml:"client_key"`
	DomainID  string `toml:"domain_id"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Override returns value unless it is empty.
func Override(value, fallback string) string {
	if value != "" {
		return value
	}

	return fallback
}
