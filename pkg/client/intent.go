package client

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "unicode/utf8"

    "go.uber.org/zap"

    "intentlog/pkg/protocol"
)

// ErrFinalized is returned by operations on an intent that already sent its
// terminal request.
var ErrFinalized = errors.New("client: intent finalized")

// RemoteError is a request the remote handler rejected with a diagnostic.
type RemoteError struct {
    ID      protocol.IntentID
    Request protocol.RequestType
    Payload []byte
}

func (e *RemoteError) Error() string {
    if len(e.Payload) > 0 && utf8.Valid(e.Payload) {
        return fmt.Sprintf("client: %s on intent %s rejected: %s", e.Request, e.ID, e.Payload)
    }
    return fmt.Sprintf("client: %s on intent %s rejected (%d byte diagnostic)", e.Request, e.ID, len(e.Payload))
}

// Intent is the client handle of an open intent. Callers must end it with one
// of the terminal calls or with Release, usually deferred.
type Intent struct {
    c  *Client
    id protocol.IntentID

    mu             sync.Mutex
    finalized      bool
    releaseType    protocol.RequestType
    releasePayload []byte
}

func (in *Intent) ID() protocol.IntentID { return in.id }

// Finalized reports whether a terminal request has been issued.
func (in *Intent) Finalized() bool {
    in.mu.Lock()
    defer in.mu.Unlock()
    return in.finalized
}

// Amend appends a step to the intent.
func (in *Intent) Amend(ctx context.Context, payload []byte) error {
    if in.Finalized() { return ErrFinalized }
    _, err := in.c.roundTrip(ctx, protocol.Request{ID: in.id, Type: protocol.RequestAmend, Payload: payload})
    return err
}

// Close completes the intent. The handle is finalized whatever the outcome.
func (in *Intent) Close(ctx context.Context, payload []byte) error {
    return in.terminal(ctx, protocol.RequestClose, payload)
}

// Abort gives the intent up. The handle is finalized whatever the outcome.
func (in *Intent) Abort(ctx context.Context, payload []byte) error {
    return in.terminal(ctx, protocol.RequestAbort, payload)
}

func (in *Intent) Timeout(ctx context.Context, payload []byte) error {
    return in.terminal(ctx, protocol.RequestTimeout, payload)
}

func (in *Intent) Reset(ctx context.Context, payload []byte) error {
    return in.terminal(ctx, protocol.RequestReset, payload)
}

func (in *Intent) CloseOnRelease(payload []byte)   { in.onRelease(protocol.RequestClose, payload) }
func (in *Intent) AbortOnRelease(payload []byte)   { in.onRelease(protocol.RequestAbort, payload) }
func (in *Intent) TimeoutOnRelease(payload []byte) { in.onRelease(protocol.RequestTimeout, payload) }
func (in *Intent) ResetOnRelease(payload []byte)   { in.onRelease(protocol.RequestReset, payload) }

func (in *Intent) onRelease(typ protocol.RequestType, payload []byte) {
    in.mu.Lock()
    in.releaseType, in.releasePayload = typ, payload
    in.mu.Unlock()
}

// Release sends the configured terminal request (Close with an empty payload
// unless configured otherwise) and waits for the answer. Failures are logged,
// never returned. Release does nothing on a finalized intent.
func (in *Intent) Release(ctx context.Context) {
    in.mu.Lock()
    if in.finalized {
        in.mu.Unlock()
        return
    }
    in.finalized = true
    typ, payload := in.releaseType, in.releasePayload
    in.mu.Unlock()

    if _, err := in.c.roundTrip(ctx, protocol.Request{ID: in.id, Type: typ, Payload: payload}); err != nil {
        in.c.log.Warn("release failed", zap.Stringer("intent", in.id), zap.Stringer("type", typ), zap.Error(err))
    }
}

func (in *Intent) terminal(ctx context.Context, typ protocol.RequestType, payload []byte) error {
    in.mu.Lock()
    if in.finalized {
        in.mu.Unlock()
        return ErrFinalized
    }
    in.finalized = true
    in.mu.Unlock()
    _, err := in.c.roundTrip(ctx, protocol.Request{ID: in.id, Type: typ, Payload: payload})
    return err
}
