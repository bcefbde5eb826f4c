package fl

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec converts model parameters to and from a transport-safe blob.
type Codec interface {
	Name() string
	Encode(p Params) ([]byte, error)
	Decode(data []byte) (Params, error)
}

const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

func NewCodec(name string) (Codec, error) {
	switch name {
	case CodecJSON, "":
		return JSONCodec{}, nil
	case CodecCBOR:
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}

type JSONCodec struct{}

func (JSONCodec) Name() string {
	return CodecJSON
}

func (JSONCodec) Encode(p Params) ([]byte, error) {
	return json.Marshal(p)
}

func (JSONCodec) Decode(data []byte) (Params, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedUpdate)
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedUpdate, err)
	}

	return p, nil
}

type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() (CBORCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return CBORCodec{}, err
	}
	dec, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		return CBORCodec{}, err
	}

	return CBORCodec{enc: enc, dec: dec}, nil
}

func (CBORCodec) Name() string {
	return CodecCBOR
}

func (c CBORCodec) Encode(p Params) ([]byte, error) {
	return c.enc.Marshal(p)
}

func (c CBORCodec) Decode(data []byte) (Params, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedUpdate)
	}
	var p Params
	if err := c.dec.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedUpdate, err)
	}

	return p, nil
}
