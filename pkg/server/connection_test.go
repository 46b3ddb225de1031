package server

import (
    "context"
    "errors"
    "net"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "go.uber.org/zap/zaptest/observer"

    "intentlog/pkg/protocol"
    "intentlog/pkg/stream"
)

const waitFor = 2 * time.Second

type record struct {
    op          string
    id          protocol.IntentID
    payload     []byte
    cancellable bool
}

// recorder is a Handler that logs every call and optionally reacts to it.
type recorder struct {
    mu    sync.Mutex
    calls []record
    react func(op string, in *Intent, payload []byte) error
}

func (r *recorder) handle(ctx context.Context, op string, in *Intent, p []byte) error {
    r.mu.Lock()
    r.calls = append(r.calls, record{op: op, id: in.ID, payload: p, cancellable: ctx.Done() != nil})
    react := r.react
    r.mu.Unlock()
    if react != nil { return react(op, in, p) }
    return nil
}

func (r *recorder) Open(ctx context.Context, in *Intent, p []byte) error    { return r.handle(ctx, "open", in, p) }
func (r *recorder) Amend(ctx context.Context, in *Intent, p []byte) error   { return r.handle(ctx, "amend", in, p) }
func (r *recorder) Close(ctx context.Context, in *Intent, p []byte) error   { return r.handle(ctx, "close", in, p) }
func (r *recorder) Abort(ctx context.Context, in *Intent, p []byte) error   { return r.handle(ctx, "abort", in, p) }
func (r *recorder) Timeout(ctx context.Context, in *Intent, p []byte) error { return r.handle(ctx, "timeout", in, p) }
func (r *recorder) Reset(ctx context.Context, in *Intent, p []byte) error   { return r.handle(ctx, "reset", in, p) }

func (r *recorder) ops(op string) []record {
    r.mu.Lock()
    defer r.mu.Unlock()
    var out []record
    for _, c := range r.calls {
        if c.op == op { out = append(out, c) }
    }
    return out
}

type fakeClient struct {
    t    *testing.T
    conn *stream.Conn
}

func (c *fakeClient) send(id protocol.IntentID, typ protocol.RequestType, payload []byte) {
    c.t.Helper()
    require.NoError(c.t, c.conn.SendRequest(&protocol.Request{ID: id, Type: typ, Payload: payload}))
}

func (c *fakeClient) recv() protocol.Response {
    c.t.Helper()
    r, err := c.conn.RecvResponse()
    require.NoError(c.t, err)
    return r
}

// call sends a request and returns the next response, which must be for id.
func (c *fakeClient) call(id protocol.IntentID, typ protocol.RequestType, payload []byte) protocol.Response {
    c.t.Helper()
    c.send(id, typ, payload)
    r := c.recv()
    require.Equal(c.t, id, r.ID)
    return r
}

type harness struct {
    client *fakeClient
    logs   *observer.ObservedLogs
    cancel context.CancelFunc
    served chan error
    closed chan error
}

func (h *harness) wait(t *testing.T) error {
    t.Helper()
    select {
    case err := <-h.served:
        return err
    case <-time.After(waitFor):
        t.Fatal("Serve did not return")
        return nil
    }
}

func start(t *testing.T, handler Handler, opts Options) *harness {
    t.Helper()
    core, logs := observer.New(zapcore.DebugLevel)
    a, b := net.Pipe()
    h := &harness{
        client: &fakeClient{t: t, conn: stream.New(b, 0)},
        logs:   logs,
        served: make(chan error, 1),
        closed: make(chan error, 1),
    }
    opts.Logger = zap.New(core)
    opts.OnClose = func(err error) { h.closed <- err }
    ctx, cancel := context.WithCancel(context.Background())
    h.cancel = cancel
    c := NewConnection(handler, a, opts)
    go func() { h.served <- c.Serve(ctx) }()
    t.Cleanup(func() {
        cancel()
        _ = h.client.conn.Close()
    })
    return h
}

func newID(t *testing.T) protocol.IntentID {
    id, err := protocol.NewIntentID()
    require.NoError(t, err)
    return id
}

func TestIntentLifecycle(t *testing.T) {
    rec := &recorder{}
    h := start(t, rec, Options{})
    id := newID(t)

    r := h.client.call(id, protocol.RequestOpen, []byte("reserve"))
    assert.Equal(t, protocol.ResponseSuccess, r.Type)
    assert.Empty(t, r.Payload)
    r = h.client.call(id, protocol.RequestAmend, []byte("step"))
    assert.Equal(t, protocol.ResponseSuccess, r.Type)
    r = h.client.call(id, protocol.RequestClose, []byte("done"))
    assert.Equal(t, protocol.ResponseSuccess, r.Type)

    require.NoError(t, h.client.conn.Close())
    require.NoError(t, h.wait(t))
    assert.NoError(t, <-h.closed)

    require.Len(t, rec.calls, 3)
    assert.Equal(t, record{op: "open", id: id, payload: []byte("reserve"), cancellable: true}, rec.calls[0])
    assert.Equal(t, "amend", rec.calls[1].op)
    assert.Equal(t, []byte("done"), rec.calls[2].payload)
    assert.Empty(t, rec.ops("reset"), "closed intents are not reset")
}

func TestControlledOpenErrorKeepsIntentOpen(t *testing.T) {
    rec := &recorder{react: func(op string, _ *Intent, _ []byte) error {
        if op == "open" { return NewError("rejected", []byte("diag")) }
        return nil
    }}
    h := start(t, rec, Options{})
    id := newID(t)

    r := h.client.call(id, protocol.RequestOpen, nil)
    assert.Equal(t, protocol.ResponseError, r.Type)
    assert.Equal(t, []byte("diag"), r.Payload)

    r = h.client.call(id, protocol.RequestAmend, []byte("still here"))
    assert.Equal(t, protocol.ResponseSuccess, r.Type)

    require.NoError(t, h.client.conn.Close())
    require.NoError(t, h.wait(t))
    resets := rec.ops("reset")
    require.Len(t, resets, 1)
    assert.Equal(t, id, resets[0].id)
}

func TestControlledErrorWithoutPayloadSendsMessage(t *testing.T) {
    rec := &recorder{react: func(op string, _ *Intent, _ []byte) error {
        if op == "amend" { return Errorf("step %d refused", 2) }
        return nil
    }}
    h := start(t, rec, Options{})
    id := newID(t)
    h.client.call(id, protocol.RequestOpen, nil)
    r := h.client.call(id, protocol.RequestAmend, nil)
    assert.Equal(t, protocol.ResponseError, r.Type)
    assert.Equal(t, []byte("step 2 refused"), r.Payload)
}

func TestTerminalRequestFinalizesEvenOnError(t *testing.T) {
    rec := &recorder{react: func(op string, _ *Intent, _ []byte) error {
        if op == "abort" { return NewError("too late", nil) }
        return nil
    }}
    h := start(t, rec, Options{})
    id := newID(t)
    h.client.call(id, protocol.RequestOpen, nil)
    r := h.client.call(id, protocol.RequestAbort, nil)
    assert.Equal(t, protocol.ResponseError, r.Type)

    r = h.client.call(id, protocol.RequestAmend, nil)
    assert.Equal(t, protocol.ResponseError, r.Type)
    assert.Equal(t, []byte("unknown intent"), r.Payload)
    assert.Empty(t, rec.ops("amend"), "handler is not called for unknown intents")

    require.NoError(t, h.client.conn.Close())
    require.NoError(t, h.wait(t))
    assert.Empty(t, rec.ops("reset"))
}

func TestEveryTerminalTypeReachesItsHandler(t *testing.T) {
    rec := &recorder{}
    h := start(t, rec, Options{})
    for _, typ := range []protocol.RequestType{protocol.RequestClose, protocol.RequestAbort, protocol.RequestTimeout, protocol.RequestReset} {
        id := newID(t)
        h.client.call(id, protocol.RequestOpen, nil)
        r := h.client.call(id, typ, []byte(typ.String()))
        assert.Equal(t, protocol.ResponseSuccess, r.Type)
        calls := rec.ops(typ.String())
        require.Len(t, calls, 1)
        assert.Equal(t, id, calls[0].id)
        assert.Equal(t, []byte(typ.String()), calls[0].payload)
    }
}

func TestResetOnTeardownExactlyOnce(t *testing.T) {
    for name, end := range map[string]func(h *harness){
        "stream ends":      func(h *harness) { _ = h.client.conn.Close() },
        "context canceled": func(h *harness) { h.cancel() },
    } {
        t.Run(name, func(t *testing.T) {
            rec := &recorder{}
            h := start(t, rec, Options{})
            a, b, c := newID(t), newID(t), newID(t)
            for _, id := range []protocol.IntentID{a, b, c} {
                h.client.call(id, protocol.RequestOpen, nil)
            }
            h.client.call(b, protocol.RequestClose, nil)

            end(h)
            require.NoError(t, h.wait(t))

            resets := rec.ops("reset")
            require.Len(t, resets, 2)
            got := map[protocol.IntentID]int{}
            for _, r := range resets {
                got[r.id]++
                assert.Nil(t, r.payload)
                assert.False(t, r.cancellable, "teardown reset must not be cancellable")
            }
            assert.Equal(t, map[protocol.IntentID]int{a: 1, c: 1}, got)
        })
    }
}

func TestPingAndPong(t *testing.T) {
    rec := &recorder{}
    h := start(t, rec, Options{})

    // an unsolicited pong gets no answer, so the first response is the pong
    // to the ping that follows
    h.client.send(protocol.IntentID{7}, protocol.RequestPong, []byte("stray"))
    r := h.client.call(protocol.IntentID{8}, protocol.RequestPing, []byte("tok"))
    assert.Equal(t, protocol.ResponsePong, r.Type)
    assert.Equal(t, []byte("tok"), r.Payload)
    assert.Empty(t, rec.calls)
    assert.Zero(t, h.logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestDuplicateOpenIsRejected(t *testing.T) {
    rec := &recorder{}
    h := start(t, rec, Options{})
    id := newID(t)
    h.client.call(id, protocol.RequestOpen, nil)
    r := h.client.call(id, protocol.RequestOpen, nil)
    assert.Equal(t, protocol.ResponseError, r.Type)
    assert.Equal(t, []byte("intent already open"), r.Payload)
    assert.Len(t, rec.ops("open"), 1)
}

func TestUnknownRequestTypeIsRejected(t *testing.T) {
    h := start(t, &recorder{}, Options{})
    r := h.client.call(protocol.IntentID{1}, protocol.RequestType(42), nil)
    assert.Equal(t, protocol.ResponseError, r.Type)
    assert.Equal(t, 1, h.logs.FilterMessage("protocol violation").Len())
}

func TestPipelinedRequestIsDropped(t *testing.T) {
    release := make(chan struct{})
    rec := &recorder{react: func(op string, _ *Intent, _ []byte) error {
        if op == "amend" { <-release }
        return nil
    }}
    h := start(t, rec, Options{})
    id := newID(t)
    h.client.call(id, protocol.RequestOpen, nil)

    h.client.send(id, protocol.RequestAmend, []byte("first"))
    h.client.send(id, protocol.RequestAmend, []byte("second"))
    // the second amend is read after the first was dispatched; sync on a ping
    r := h.client.call(protocol.IntentID{0xEE}, protocol.RequestPing, nil)
    require.Equal(t, protocol.ResponsePong, r.Type)

    close(release)
    r = h.client.recv()
    assert.Equal(t, id, r.ID)
    assert.Equal(t, protocol.ResponseSuccess, r.Type)

    r = h.client.call(protocol.IntentID{0xEF}, protocol.RequestPing, nil)
    assert.Equal(t, protocol.ResponsePong, r.Type, "no answer for the dropped request")

    amends := rec.ops("amend")
    require.Len(t, amends, 1)
    assert.Equal(t, []byte("first"), amends[0].payload)
    errs := h.logs.FilterLevelExact(zapcore.ErrorLevel)
    require.Equal(t, 1, errs.Len())
    assert.Equal(t, "request while another is in flight, dropped", errs.All()[0].Message)
}

func TestUncontrolledErrorIsFatal(t *testing.T) {
    boom := errors.New("disk on fire")
    rec := &recorder{react: func(op string, _ *Intent, _ []byte) error {
        if op == "amend" { return boom }
        return nil
    }}
    h := start(t, rec, Options{})
    id := newID(t)
    h.client.call(id, protocol.RequestOpen, nil)
    h.client.send(id, protocol.RequestAmend, nil)

    _, err := h.client.conn.RecvResponse()
    assert.ErrorIs(t, err, protocol.ErrEndOfStream)

    err = h.wait(t)
    assert.ErrorIs(t, err, boom)
    assert.ErrorIs(t, <-h.closed, boom)
    resets := rec.ops("reset")
    require.Len(t, resets, 1)
    assert.Equal(t, id, resets[0].id)
    assert.Equal(t, 1, h.logs.FilterMessage("handler failed").Len())
}

func TestHandlerPanicIsFatal(t *testing.T) {
    rec := &recorder{react: func(op string, _ *Intent, _ []byte) error {
        if op == "open" { panic("nil map") }
        return nil
    }}
    h := start(t, rec, Options{})
    id := newID(t)
    h.client.send(id, protocol.RequestOpen, nil)

    err := h.wait(t)
    require.Error(t, err)
    assert.Contains(t, err.Error(), "nil map")
    assert.Len(t, rec.ops("reset"), 1, "the half-opened intent is still reset")
}

func TestPayloadCapEndsConnection(t *testing.T) {
    rec := &recorder{}
    h := start(t, rec, Options{MaxPayload: 4})
    id := newID(t)
    h.client.call(id, protocol.RequestOpen, []byte("ok"))
    h.client.send(id, protocol.RequestAmend, []byte("far too long"))

    err := h.wait(t)
    assert.ErrorIs(t, err, protocol.ErrPayloadTooLarge)
    assert.Len(t, rec.ops("reset"), 1)
}

func TestHeartbeatPingsAreAnswered(t *testing.T) {
    h := start(t, &recorder{}, Options{HeartbeatInterval: 10 * time.Millisecond, HeartbeatMissLimit: 3})

    r := h.client.recv()
    require.Equal(t, protocol.ResponsePing, r.Type)
    require.Len(t, r.Payload, 8)
    h.client.send(r.ID, protocol.RequestPong, r.Payload)

    // drain further pings until the pong to our own ping shows up
    h.client.send(protocol.IntentID{0xAA}, protocol.RequestPing, nil)
    for {
        r = h.client.recv()
        if r.Type == protocol.ResponsePong { break }
        require.Equal(t, protocol.ResponsePing, r.Type)
        h.client.send(r.ID, protocol.RequestPong, r.Payload)
    }
    beats := h.logs.FilterMessage("heartbeat").All()
    require.NotEmpty(t, beats)
    assert.Equal(t, int64(0), beats[0].ContextMap()["open"])

    h.cancel()
    assert.NoError(t, h.wait(t))
}

func TestHeartbeatMissLimitEndsConnection(t *testing.T) {
    rec := &recorder{}
    h := start(t, rec, Options{HeartbeatInterval: 5 * time.Millisecond, HeartbeatMissLimit: 2})
    // read everything, answer no ping
    go func() {
        for {
            if _, err := h.client.conn.RecvResponse(); err != nil { return }
        }
    }()
    h.client.send(newID(t), protocol.RequestOpen, nil)

    err := h.wait(t)
    assert.ErrorIs(t, err, ErrHeartbeatTimeout)
    assert.Len(t, rec.ops("reset"), 1)

    missed := h.logs.FilterMessage("heartbeat missed").All()
    require.NotEmpty(t, missed)
    fields := missed[0].ContextMap()
    assert.Contains(t, fields, "outstanding")
    assert.Equal(t, time.Duration(0), fields["last_rtt"])
}
