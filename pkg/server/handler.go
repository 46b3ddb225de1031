// Package server is the handling side of the intent protocol. A Connection
// reads requests from one stream, dispatches them to a Handler, and resets
// every intent left open when the stream goes away.
package server

import (
    "context"
    "fmt"

    "intentlog/pkg/protocol"
)

// Intent is the server view of an intent: only its correlation id.
type Intent struct {
    ID protocol.IntentID
}

// Handler is implemented by the embedding application. Calls for one intent
// never overlap; calls for different intents run concurrently.
//
// Returning an *Error rejects the request and sends its payload back to the
// client. Any other error, or a panic, tears the connection down.
type Handler interface {
    Open(ctx context.Context, in *Intent, payload []byte) error
    Amend(ctx context.Context, in *Intent, payload []byte) error
    Close(ctx context.Context, in *Intent, payload []byte) error
    Abort(ctx context.Context, in *Intent, payload []byte) error
    Timeout(ctx context.Context, in *Intent, payload []byte) error
    // Reset is also called with an empty payload and a non-cancellable
    // context for every intent still open when the connection ends.
    Reset(ctx context.Context, in *Intent, payload []byte) error
}

// Error is a controlled handler failure. Payload is sent verbatim in the
// Error response; when nil the Message bytes are sent instead.
type Error struct {
    Message string
    Payload []byte
}

func NewError(message string, payload []byte) *Error {
    return &Error{Message: message, Payload: payload}
}

// Errorf builds an Error whose diagnostic payload is the formatted message.
func Errorf(format string, args ...any) *Error {
    return &Error{Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return "server: " + e.Message }

func (e *Error) payload() []byte {
    if e.Payload != nil { return e.Payload }
    return []byte(e.Message)
}

func call(ctx context.Context, h Handler, typ protocol.RequestType, in *Intent, payload []byte) (err error) {
    defer func() {
        if r := recover(); r != nil { err = fmt.Errorf("server: handler panic in %s: %v", typ, r) }
    }()
    switch typ {
    case protocol.RequestOpen:
        return h.Open(ctx, in, payload)
    case protocol.RequestAmend:
        return h.Amend(ctx, in, payload)
    case protocol.RequestClose:
        return h.Close(ctx, in, payload)
    case protocol.RequestAbort:
        return h.Abort(ctx, in, payload)
    case protocol.RequestTimeout:
        return h.Timeout(ctx, in, payload)
    case protocol.RequestReset:
        return h.Reset(ctx, in, payload)
    default:
        return fmt.Errorf("server: no handler for %s", typ)
    }
}
