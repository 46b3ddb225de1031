// Package payload encodes application values into intent payloads. An
// encoded body is one codec.Format byte followed by the codec output; the
// protocol itself never looks inside.
package payload

import (
    "errors"
    "fmt"

    "intentlog/pkg/payload/codec"
)

// ErrEmpty is returned when decoding a payload with no format byte.
var ErrEmpty = errors.New("payload: empty body")

// Default is the registry used by the package-level helpers.
var Default = codec.NewRegistry()

// Encode serializes v with the codec for f and prefixes the format byte.
func Encode(f codec.Format, v any) ([]byte, error) { return EncodeWith(Default, f, v) }

// Decode decodes a body produced by Encode into v and returns its format.
func Decode(b []byte, v any) (codec.Format, error) { return DecodeWith(Default, b, v) }

// EncodeWith is Encode against an explicit registry.
func EncodeWith(r *codec.Registry, f codec.Format, v any) ([]byte, error) {
    c, err := r.Lookup(f)
    if err != nil { return nil, err }
    b, err := c.Marshal(v)
    if err != nil { return nil, fmt.Errorf("payload: encode %s: %w", f, err) }
    out := make([]byte, 1+len(b))
    out[0] = byte(f)
    copy(out[1:], b)
    return out, nil
}

// DecodeWith is Decode against an explicit registry.
func DecodeWith(r *codec.Registry, b []byte, v any) (codec.Format, error) {
    if len(b) == 0 { return codec.FormatRaw, ErrEmpty }
    f := codec.Format(b[0])
    c, err := r.Lookup(f)
    if err != nil { return f, err }
    if err := c.Unmarshal(b[1:], v); err != nil {
        return f, fmt.Errorf("payload: decode %s: %w", f, err)
    }
    return f, nil
}

// FormatOf returns the format marker of an encoded body.
func FormatOf(b []byte) (codec.Format, bool) {
    if len(b) == 0 { return codec.FormatRaw, false }
    return codec.Format(b[0]), true
}
