// Package trainer resolves local training backends by name.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/absmach/fedcoord/pkg/fl"
)

var (
	ErrUnknownTrainer = errors.New("unknown trainer")
	ErrEmptyName      = errors.New("trainer name is required")
	ErrMissingBinary  = errors.New("wasm trainer requires a module binary")
)

// Trainer runs local training and evaluation on a participant's data.
type Trainer interface {
	// Train starts from the global params and returns the updated params with
	// the number of local samples used.
	Train(ctx context.Context, global fl.Params, partition int) (fl.Params, int, error)

	// Evaluate reports monitoring metrics of params for a round.
	Evaluate(ctx context.Context, round int, params fl.Params, batches []int) (map[string]float64, error)
}

type Config struct {
	DataDir     string
	WasmBinary  []byte
	SampleCount int
	Args        fl.TrainingArgs
}

type Factory func(cfg Config) (Trainer, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in trainers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories[IdentityName] = NewIdentity
	r.factories[WasmName] = NewWasm

	return r
}

func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = f

	return nil
}

func (r *Registry) New(name string, cfg Config) (Trainer, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrainer, name)
	}

	return f(cfg)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}
