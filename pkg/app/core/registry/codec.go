package registry

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("registry: cbor enc mode: %v", err))
	}
}

// Encode serializes r with deterministic CBOR, fields in declaration order.
func Encode(r *Registry) ([]byte, error) {
	data, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registry: %w", err)
	}
	return data, nil
}

// Decode parses a registry produced by Encode.
func Decode(data []byte) (*Registry, error) {
	var r Registry
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	if r.Items == nil {
		r.Items = []Item{}
	}
	for i := range r.Items {
		if r.Items[i].Bids == nil {
			r.Items[i].Bids = []BidRecord{}
		}
	}
	return &r, nil
}

// EncodedSize returns the serialized size of r in bytes.
func EncodedSize(r *Registry) (int, error) {
	data, err := Encode(r)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
