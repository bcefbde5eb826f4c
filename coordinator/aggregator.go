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
)

// Evaluator scores the global model after a round for monitoring only.
type Evaluator interface {
	Evaluate(ctx context.Context, round int, params fl.Params, batches []int) (map[string]float64, error)
}

// Aggregator owns the global model and the update buffer of the current round.
type Aggregator struct {
	mu        sync.Mutex
	model     fl.GlobalModel
	buffer    map[int]fl.ClientUpdate
	expected  int
	evaluator Evaluator
	logger    *slog.Logger
}

func NewAggregator(initial fl.GlobalModel, expected int, evaluator Evaluator, logger *slog.Logger) *Aggregator {
	initial.Params = initial.Params.Clone()
	if initial.Params == nil {
		initial.Params = fl.Params{}
	}

	return &Aggregator{
		model:     initial,
		buffer:    make(map[int]fl.ClientUpdate, expected),
		expected:  expected,
		evaluator: evaluator,
		logger:    logger,
	}
}

// AddLocalTrainedResult stores the update of a client, replacing any earlier
// update the client sent in the same round.
func (a *Aggregator) AddLocalTrainedResult(clientIndex int, params fl.Params, numSamples int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffer[clientIndex] = fl.ClientUpdate{
		ClientIndex: clientIndex,
		Params:      params,
		NumSamples:  numSamples,
		ReceivedAt:  time.Now().UTC(),
	}
}

func (a *Aggregator) CheckWhetherAllReceive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.expected > 0 && len(a.buffer) == a.expected
}

// Aggregate replaces the global model with the weighted average of the
// buffered updates, clears the buffer and advances the model round. On error
// the model and the buffer are left untouched.
func (a *Aggregator) Aggregate() (fl.GlobalModel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	updates := slices.Collect(maps.Values(a.buffer))
	params, err := fl.FedAvg(updates)
	if err != nil {
		return fl.GlobalModel{}, err
	}

	a.model = fl.GlobalModel{
		Round:     a.model.Round + 1,
		Params:    params,
		UpdatedAt: time.Now().UTC(),
	}
	clear(a.buffer)

	return a.copyModel(), nil
}

func (a *Aggregator) GlobalModelParams() fl.Params {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.model.Params.Clone()
}

func (a *Aggregator) GlobalModel() fl.GlobalModel {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.copyModel()
}

// TestOnServerForAllClients evaluates the global model. Failures are logged
// and never returned.
func (a *Aggregator) TestOnServerForAllClients(ctx context.Context, roundIdx int, batches []int) {
	if a.evaluator == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("server evaluation panicked", slog.Int("round", roundIdx), slog.Any("panic", r))
		}
	}()

	metrics, err := a.evaluator.Evaluate(ctx, roundIdx, a.GlobalModelParams(), batches)
	if err != nil {
		a.logger.Warn("server evaluation failed", slog.Int("round", roundIdx), slog.Any("error", err))

		return
	}

	attrs := make([]any, 0, len(metrics)+1)
	attrs = append(attrs, slog.Int("round", roundIdx))
	for _, name := range slices.Sorted(maps.Keys(metrics)) {
		attrs = append(attrs, slog.Float64(name, metrics[name]))
	}
	a.logger.Info("server evaluation completed", attrs...)
}

// Received returns the sorted client indexes buffered for the current round.
func (a *Aggregator) Received() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return slices.Sorted(maps.Keys(a.buffer))
}

// TotalSamples sums the sample counts of the buffered updates.
func (a *Aggregator) TotalSamples() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total int
	for _, u := range a.buffer {
		total += u.NumSamples
	}

	return total
}

// SetExpected changes how many distinct updates complete the round.
func (a *Aggregator) SetExpected(n int) error {
	if n <= 0 {
		return fmt.Errorf("expected participant count must be positive, got %d", n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.expected = n

	return nil
}

// Discard drops the buffered updates without touching the global model.
func (a *Aggregator) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()

	clear(a.buffer)
}

func (a *Aggregator) RoundState() fl.RoundState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return fl.RoundState{
		RoundIndex: a.model.Round,
		Expected:   a.expected,
		Received:   len(a.buffer),
	}
}

func (a *Aggregator) copyModel() fl.GlobalModel {
	m := a.model
	m.Params = m.Params.Clone()

	return m
}

// Validate checks params against the shape of the current global model.
// Before the model has any tensors, the updates other clients buffered in
// this round define the shape instead.
func (a *Aggregator) Validate(clientIndex int, params fl.Params) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.model.Params) > 0 {
		return params.Validate(a.model.Params)
	}
	if err := params.Validate(nil); err != nil {
		return err
	}
	for _, idx := range slices.Sorted(maps.Keys(a.buffer)) {
		if idx == clientIndex {
			continue
		}
		if !maps.Equal(params.Shape(), a.buffer[idx].Params.Shape()) {
			return fmt.Errorf("%w: shape differs from client %d", fl.ErrShapeMismatch, idx+1)
		}

		return nil
	}

	return nil
}
