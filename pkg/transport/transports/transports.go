// Package transports builds a transport.Transport from its kind, so callers
// can pick one from configuration.
package transports

import (
    "errors"
    "fmt"

    "intentlog/pkg/transport"
    "intentlog/pkg/transport/mem"
    "intentlog/pkg/transport/quic"
    "intentlog/pkg/transport/tcp"
)

// ErrUnknownKind is returned for kinds this build cannot provide.
var ErrUnknownKind = errors.New("transports: unknown transport kind")

// Shared is the in-process transport used for "mem" addresses, so a
// listener and a dialer created from configuration meet each other.
var Shared = mem.New()

// NewByKind returns a ready transport of the given kind.
func NewByKind(k transport.Kind) (transport.Transport, error) {
    switch k {
    case transport.KindTCP:
        return tcp.New(), nil
    case transport.KindQUIC:
        t, err := quic.New()
        if err != nil { return nil, err }
        return t, nil
    case transport.KindMem:
        return Shared, nil
    case transport.KindWinPipe:
        return newWinPipeTransport()
    }
    return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
}

// NewByName parses name with transport.ParseKind and calls NewByKind.
func NewByName(name string) (transport.Transport, error) {
    k, err := transport.ParseKind(name)
    if err != nil { return nil, fmt.Errorf("%w: %w", ErrUnknownKind, err) }
    return NewByKind(k)
}
