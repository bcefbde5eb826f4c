package fl

import (
	"fmt"
	"maps"
	"math"
	"time"
)

// Params holds named model tensors flattened to one dimension.
type Params map[string][]float64

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for name, values := range p {
		out[name] = append([]float64(nil), values...)
	}

	return out
}

func (p Params) Shape() map[string]int {
	shape := make(map[string]int, len(p))
	for name, values := range p {
		shape[name] = len(values)
	}

	return shape
}

// Validate reports whether p has only finite values and, when reference is
// non-empty, the same tensor names and lengths as reference.
func (p Params) Validate(reference Params) error {
	for name, values := range p {
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s[%d] is not finite", ErrMalformedUpdate, name, i)
			}
		}
	}
	if len(reference) == 0 {
		return nil
	}
	if !maps.Equal(p.Shape(), reference.Shape()) {
		return ErrShapeMismatch
	}

	return nil
}

type ClientUpdate struct {
	ClientIndex int       `json:"client_index"`
	Params      Params    `json:"params"`
	NumSamples  int       `json:"num_samples"`
	ReceivedAt  time.Time `json:"received_at"`
}

type GlobalModel struct {
	Round     int       `json:"round"`
	Params    Params    `json:"params"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RoundState struct {
	RoundIndex int `json:"round_index"`
	Expected   int `json:"expected"`
	Received   int `json:"received"`
}

func (r RoundState) Complete() bool {
	return r.Expected > 0 && r.Received == r.Expected
}

type Registration struct {
	DeviceID  string    `json:"device_id"`
	ClientID  int       `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientIndex is the 0-based index used in aggregation for a 1-based client id.
func (r Registration) ClientIndex() int {
	return r.ClientID - 1
}

// TrainingArgs is handed to a participant at registration.
type TrainingArgs struct {
	Dataset            string  `json:"dataset"`
	DataDir            string  `json:"data_dir"`
	DatasetURL         string  `json:"dataset_url,omitempty"`
	PartitionMethod    string  `json:"partition_method"`
	PartitionAlpha     float64 `json:"partition_alpha"`
	ClientNumInTotal   int     `json:"client_num_in_total"`
	ClientNumPerRound  int     `json:"client_num_per_round"`
	CommRound          int     `json:"comm_round"`
	Epochs             int     `json:"epochs"`
	LR                 float64 `json:"lr"`
	Momentum           float64 `json:"momentum"`
	WeightDecay        float64 `json:"weight_decay"`
	BatchSize          int     `json:"batch_size"`
	FrequencyOfTheTest int     `json:"frequency_of_the_test"`
	Backend            string  `json:"backend"`
	MQTTHost           string  `json:"mqtt_host"`
	MQTTPort           int     `json:"mqtt_port"`
	Method             string  `json:"method"`
	ChannelID          string  `json:"channel_id"`
	Codec              string  `json:"codec"`
	Trainer            string  `json:"trainer"`
}

// BrokerURL returns the MQTT broker address handed out at registration.
func (a TrainingArgs) BrokerURL() string {
	if a.MQTTHost == "" {
		return ""
	}

	return fmt.Sprintf("tcp://%s:%d", a.MQTTHost, a.MQTTPort)
}

const (
	OutcomeAggregated = "aggregated"
	OutcomeAborted    = "aborted"
)

// RoundRecord is the persisted history entry of a finished round attempt.
// Attempt starts at 0 and increases each time the round is aborted and resent.
type RoundRecord struct {
	Index        int       `json:"index"`
	Attempt      int       `json:"attempt"`
	Outcome      string    `json:"outcome"`
	Participants []int     `json:"participants"`
	TotalSamples int       `json:"total_samples"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}
