package fl

import "fmt"

// PartitionPolicy maps a client in a round to the local data partition it trains on.
type PartitionPolicy interface {
	Assign(roundIdx, clientIndex int) int
}

const (
	PartitionDistinct = "distinct"
	PartitionRound    = "round"
)

func NewPartitionPolicy(name string, perRound, total int) (PartitionPolicy, error) {
	switch name {
	case PartitionDistinct, "":
		return NewDistinctPartitions(perRound, total), nil
	case PartitionRound:
		return RoundPartitions{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartitionPolicy, name)
	}
}

// DistinctPartitions gives every client of a round its own partition and
// rotates through Total partitions across rounds.
type DistinctPartitions struct {
	PerRound int
	Total    int
}

func NewDistinctPartitions(perRound, total int) DistinctPartitions {
	if total < perRound {
		total = perRound
	}

	return DistinctPartitions{PerRound: perRound, Total: total}
}

func (d DistinctPartitions) Assign(roundIdx, clientIndex int) int {
	if d.Total <= 0 {
		return clientIndex
	}

	return (roundIdx*d.PerRound + clientIndex) % d.Total
}

// RoundPartitions assigns every client the partition equal to the round index.
type RoundPartitions struct{}

func (RoundPartitions) Assign(roundIdx, _ int) int {
	return roundIdx
}
