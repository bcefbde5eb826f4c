package fl

import "errors"

var (
	ErrEmptyRound             = errors.New("no updates received for aggregation")
	ErrInvalidWeight          = errors.New("total sample count must be positive")
	ErrMalformedUpdate        = errors.New("malformed model update")
	ErrUnknownClient          = errors.New("update from unknown client")
	ErrLateMessage            = errors.New("message received after training terminated")
	ErrStaleUpdate            = errors.New("update belongs to a previous round")
	ErrShapeMismatch          = errors.New("model parameter shapes do not match")
	ErrUnknownCodec           = errors.New("unknown model codec")
	ErrUnknownPartitionPolicy = errors.New("unknown partition policy")
	ErrModelNotFound          = errors.New("model not found")
	ErrNonFiniteModel         = errors.New("aggregated model is not finite")
)
