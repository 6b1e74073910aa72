package crdt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// deltaMagic prefixes every encoded delta so foreign files fail fast.
const deltaMagic = "TSD1"

// deltaVersion is bumped on incompatible changes to deltaWire.
const deltaVersion = 1

// maxDecodedSize bounds decompression of untrusted delta files.
const maxDecodedSize = 64 << 20

// ErrMalformedUpdate is returned when delta bytes cannot be decoded.
var ErrMalformedUpdate = errors.New("malformed update")

type entryWire struct {
	UUID    string `cbor:"1,keyasint"`
	Stamp   int64  `cbor:"2,keyasint"`
	Actor   string `cbor:"3,keyasint"`
	Deleted bool   `cbor:"4,keyasint,omitempty"`
	Payload []byte `cbor:"5,keyasint,omitempty"`
}

type deltaWire struct {
	Version int         `cbor:"1,keyasint"`
	Actor   string      `cbor:"2,keyasint"`
	Entries []entryWire `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	// Core Deterministic Encoding: the same delta always yields the same bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("crdt: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("crdt: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("crdt: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		panic("crdt: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeDelta(d *deltaWire) ([]byte, error) {
	raw, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delta: %w", err)
	}
	out := make([]byte, 0, len(deltaMagic)+len(raw)/2)
	out = append(out, deltaMagic...)
	return zstdEncoder.EncodeAll(raw, out), nil
}

// decodeDelta parses and validates a delta. Nothing is applied here, so a
// failure leaves the document untouched.
func decodeDelta(data []byte) (*deltaWire, error) {
	if !bytes.HasPrefix(data, []byte(deltaMagic)) {
		return nil, fmt.Errorf("%w: missing %s header", ErrMalformedUpdate, deltaMagic)
	}
	raw, err := zstdDecoder.DecodeAll(data[len(deltaMagic):], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decompress: %v", ErrMalformedUpdate, err)
	}

	var d deltaWire
	if err := decMode.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	if d.Version != deltaVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedUpdate, d.Version)
	}
	for i, e := range d.Entries {
		if e.UUID == "" {
			return nil, fmt.Errorf("%w: entry %d has no uuid", ErrMalformedUpdate, i)
		}
		if !e.Deleted {
			if err := validPayload(e.UUID, e.Payload); err != nil {
				return nil, fmt.Errorf("%w: entry %s: %v", ErrMalformedUpdate, e.UUID, err)
			}
		}
	}
	return &d, nil
}
