// Package codec holds the body encodings an intent payload may carry.
// Implementations are deterministic so the same value always produces the
// same bytes on both ends of a connection.
package codec

import (
    "fmt"
    "strings"
    "sync"
)

// Format is the single byte that prefixes an encoded payload body.
type Format uint8

const (
    FormatRaw Format = iota
    FormatJSON
    FormatCBOR
    FormatProto
)

const (
    ContentRaw   = "application/octet-stream"
    ContentJSON  = "application/json"
    ContentCBOR  = "application/cbor"
    ContentProto = "application/x-protobuf"
)

func (f Format) String() string {
    switch f {
    case FormatRaw:
        return "raw"
    case FormatJSON:
        return "json"
    case FormatCBOR:
        return "cbor"
    case FormatProto:
        return "proto"
    default:
        return fmt.Sprintf("format(%d)", uint8(f))
    }
}

// ParseFormat accepts the names printed by Format.String.
func ParseFormat(s string) (Format, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "raw", "", "bytes":
        return FormatRaw, nil
    case "json":
        return FormatJSON, nil
    case "cbor":
        return FormatCBOR, nil
    case "proto", "protobuf":
        return FormatProto, nil
    default:
        return FormatRaw, fmt.Errorf("unknown payload format: %q", s)
    }
}

// Codec marshals typed values for one Format.
type Codec interface {
    Format() Format
    ContentType() string
    Marshal(v any) ([]byte, error)
    Unmarshal(data []byte, v any) error
}

// Registry maps formats to codecs. It is safe for concurrent use.
type Registry struct {
    mu       sync.RWMutex
    byFormat map[Format]Codec
}

// NewRegistry constructs a registry preloaded with every built-in codec.
func NewRegistry() *Registry {
    r := &Registry{byFormat: make(map[Format]Codec)}
    r.Register(Raw())
    r.Register(JSON())
    r.Register(MustCBOR())
    r.Register(Proto())
    return r
}

// Register adds or replaces the codec for c.Format().
func (r *Registry) Register(c Codec) {
    r.mu.Lock(); defer r.mu.Unlock()
    r.byFormat[c.Format()] = c
}

// Lookup returns the codec registered for f.
func (r *Registry) Lookup(f Format) (Codec, error) {
    r.mu.RLock(); defer r.mu.RUnlock()
    if c, ok := r.byFormat[f]; ok { return c, nil }
    return nil, fmt.Errorf("no codec for %s", f)
}
