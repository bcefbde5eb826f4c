package trainer

import (
	"context"

	"github.com/absmach/fedcoord/pkg/fl"
)

const (
	IdentityName       = "identity"
	defIdentitySamples = 1
)

// Identity returns the global params unchanged. It backs smoke tests and the
// coordinator's default evaluator.
type Identity struct {
	samples int
}

func NewIdentity(cfg Config) (Trainer, error) {
	samples := cfg.SampleCount
	if samples <= 0 {
		samples = defIdentitySamples
	}

	return &Identity{samples: samples}, nil
}

func (t *Identity) Train(_ context.Context, global fl.Params, _ int) (fl.Params, int, error) {
	return global.Clone(), t.samples, nil
}

func (t *Identity) Evaluate(_ context.Context, _ int, params fl.Params, batches []int) (map[string]float64, error) {
	var values int
	for _, tensor := range params {
		values += len(tensor)
	}

	return map[string]float64{
		"num_params":  float64(values),
		"num_batches": float64(len(batches)),
	}, nil
}
