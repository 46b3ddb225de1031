package codec

import (
    cbor "github.com/fxamacker/cbor/v2"
)

type cborCodec struct{ enc cbor.EncMode; dec cbor.DecMode }

// CBOR returns a canonical CBOR codec (RFC 8949 core deterministic profile).
// Times are written as RFC 3339 strings with nanoseconds.
func CBOR() (Codec, error) {
    opts := cbor.CanonicalEncOptions()
    opts.Time = cbor.TimeRFC3339Nano
    em, err := opts.EncMode()
    if err != nil { return nil, err }
    dm, err := cbor.DecOptions{}.DecMode()
    if err != nil { return nil, err }
    return cborCodec{enc: em, dec: dm}, nil
}

// MustCBOR is CBOR for static option sets that cannot fail.
func MustCBOR() Codec {
    c, err := CBOR()
    if err != nil { panic(err) }
    return c
}

func (c cborCodec) Format() Format       { return FormatCBOR }
func (c cborCodec) ContentType() string  { return ContentCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
