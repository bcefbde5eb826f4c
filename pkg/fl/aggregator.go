package fl

import (
	"fmt"
	"maps"
	"slices"
)

// FedAvg returns the sample-weighted average of the update parameters.
// Updates are summed in client index order so the result does not depend on
// the order in which they were received.
func FedAvg(updates []ClientUpdate) (Params, error) {
	if len(updates) == 0 {
		return nil, ErrEmptyRound
	}

	ordered := slices.Clone(updates)
	slices.SortFunc(ordered, func(a, b ClientUpdate) int {
		return a.ClientIndex - b.ClientIndex
	})

	var totalSamples int64
	for _, u := range ordered {
		if u.NumSamples < 0 {
			return nil, ErrInvalidWeight
		}
		totalSamples += int64(u.NumSamples)
	}
	if totalSamples == 0 {
		return nil, ErrInvalidWeight
	}

	shape := ordered[0].Params.Shape()
	aggregated := make(Params, len(shape))
	for name, size := range shape {
		aggregated[name] = make([]float64, size)
	}

	norm := float64(totalSamples)
	for _, u := range ordered {
		if !maps.Equal(u.Params.Shape(), shape) {
			return nil, ErrShapeMismatch
		}
		if err := u.Params.Validate(nil); err != nil {
			return nil, err
		}
		weight := float64(u.NumSamples) / norm
		for name, values := range u.Params {
			acc := aggregated[name]
			for i, v := range values {
				acc[i] += v * weight
			}
		}
	}
	if err := aggregated.Validate(nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNonFiniteModel, err)
	}

	return aggregated, nil
}
