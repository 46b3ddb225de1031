package server

import (
    "context"
    "errors"
    "fmt"
    "io"
    "sync"
    "time"

    "go.uber.org/zap"

    "intentlog/pkg/core/heartbeat"
    "intentlog/pkg/metrics"
    "intentlog/pkg/protocol"
    "intentlog/pkg/stream"
)

// ErrHeartbeatTimeout ends a connection whose peer stopped answering pings.
var ErrHeartbeatTimeout = errors.New("server: heartbeat timeout")

type Options struct {
    // Logger defaults to zap.L().
    Logger *zap.Logger
    // OnClose runs once after teardown with the reason the connection ended
    // (nil for a clean end of stream or cancellation).
    OnClose func(err error)
    // HeartbeatInterval enables unsolicited pings when positive.
    HeartbeatInterval time.Duration
    // HeartbeatMissLimit tears the connection down after that many
    // consecutive unanswered pings; zero never does.
    HeartbeatMissLimit int
    // MaxPayload caps inbound payloads; zero means unbounded.
    MaxPayload uint32
    Metrics    *metrics.Metrics
}

type tracked struct {
    intent *Intent
    busy   bool
}

// Connection serves one client stream.
type Connection struct {
    handler Handler
    conn    *stream.Conn
    opts    Options
    log     *zap.Logger
    hb      *heartbeat.Monitor

    mu    sync.Mutex
    open  map[protocol.IntentID]*tracked
    fatal error

    wg sync.WaitGroup
}

func NewConnection(h Handler, rwc io.ReadWriteCloser, opts Options) *Connection {
    log := opts.Logger
    if log == nil { log = zap.L() }
    c := &Connection{
        handler: h,
        conn:    stream.New(rwc, opts.MaxPayload),
        opts:    opts,
        log:     log.Named("server"),
        hb:      heartbeat.NewMonitor(),
        open:    make(map[protocol.IntentID]*tracked),
    }
    if opts.Metrics != nil {
        c.conn.OnRead = opts.Metrics.FrameIn
        c.conn.OnWrite = opts.Metrics.FrameOut
    }
    return c
}

// Serve runs the read loop until the stream ends, ctx is cancelled, or a
// fatal error occurs. It then waits for in-flight handler calls, resets
// every intent still open, closes the stream and calls OnClose. The returned
// error is nil for a clean end.
func (c *Connection) Serve(ctx context.Context) error {
    stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
    defer stop()

    hbCtx, stopHB := context.WithCancel(ctx)
    if c.opts.HeartbeatInterval > 0 {
        c.wg.Add(1)
        go c.heartbeatLoop(hbCtx)
    }

    readErr := c.readLoop(ctx)
    if readErr != nil && !errors.Is(readErr, protocol.ErrEndOfStream) {
        // framing is lost; nothing more can be written either
        c.fail(fmt.Errorf("server: read: %w", readErr))
    }
    stopHB()
    c.wg.Wait()

    n := c.resetOpen(context.WithoutCancel(ctx))
    _ = c.conn.Close()

    err := c.result()
    if err != nil {
        c.log.Error("connection failed", zap.Int("reset", n), zap.Error(err))
    } else {
        c.log.Debug("connection closed", zap.Int("reset", n))
    }
    if c.opts.OnClose != nil { c.opts.OnClose(err) }
    return err
}

// OpenIntents returns the number of intents not yet finalized.
func (c *Connection) OpenIntents() int {
    c.mu.Lock()
    defer c.mu.Unlock()
    return len(c.open)
}

func (c *Connection) readLoop(ctx context.Context) error {
    for {
        r, err := c.conn.RecvRequest()
        if err != nil { return err }
        c.dispatch(ctx, r)
    }
}

func (c *Connection) dispatch(ctx context.Context, r protocol.Request) {
    switch r.Type {
    case protocol.RequestPing:
        c.reply(protocol.Response{ID: r.ID, Type: protocol.ResponsePong, Payload: r.Payload})
    case protocol.RequestPong:
        rtt, ok := c.hb.Ack(r.ID, r.Payload)
        if !ok {
            c.log.Debug("unmatched pong", zap.Stringer("intent", r.ID))
            return
        }
        c.opts.Metrics.ObserveHeartbeat(rtt)
        c.log.Debug("heartbeat", zap.Duration("rtt", rtt), zap.Int("open", c.OpenIntents()))
    case protocol.RequestOpen:
        c.mu.Lock()
        if _, dup := c.open[r.ID]; dup {
            c.mu.Unlock()
            c.reject(r, "intent already open")
            return
        }
        t := &tracked{intent: &Intent{ID: r.ID}, busy: true}
        c.open[r.ID] = t
        c.mu.Unlock()
        c.opts.Metrics.IntentOpened()
        c.start(ctx, r, t)
    case protocol.RequestAmend, protocol.RequestClose, protocol.RequestAbort,
        protocol.RequestTimeout, protocol.RequestReset:
        c.mu.Lock()
        t, ok := c.open[r.ID]
        switch {
        case !ok:
            c.mu.Unlock()
            c.reject(r, "unknown intent")
            return
        case t.busy:
            c.mu.Unlock()
            c.log.Error("request while another is in flight, dropped",
                zap.Stringer("intent", r.ID), zap.Stringer("type", r.Type))
            return
        }
        t.busy = true
        c.mu.Unlock()
        c.start(ctx, r, t)
    default:
        c.reject(r, "unknown request type")
    }
}

func (c *Connection) start(ctx context.Context, r protocol.Request, t *tracked) {
    c.wg.Add(1)
    go func() {
        defer c.wg.Done()
        c.invoke(ctx, r, t)
    }()
}

func (c *Connection) invoke(ctx context.Context, r protocol.Request, t *tracked) {
    err := call(ctx, c.handler, r.Type, t.intent, r.Payload)

    // settle the intent before answering so the client's next request is
    // never mistaken for a pipelined one
    terminal := r.Type.Terminal()
    c.mu.Lock()
    if terminal {
        delete(c.open, r.ID)
    } else {
        t.busy = false
    }
    c.mu.Unlock()
    if terminal { c.opts.Metrics.IntentFinalized() }

    var ctrl *Error
    switch {
    case err == nil:
        c.send(protocol.Response{ID: r.ID, Type: protocol.ResponseSuccess})
    case errors.As(err, &ctrl):
        c.opts.Metrics.HandlerFailed(r.Type.String(), "controlled")
        c.log.Debug("request rejected", zap.Stringer("intent", r.ID), zap.Stringer("type", r.Type), zap.String("reason", ctrl.Message))
        c.send(protocol.Response{ID: r.ID, Type: protocol.ResponseError, Payload: ctrl.payload()})
    case ctx.Err() != nil && errors.Is(err, ctx.Err()):
        c.log.Debug("handler cancelled", zap.Stringer("intent", r.ID), zap.Stringer("type", r.Type))
    default:
        c.opts.Metrics.HandlerFailed(r.Type.String(), "fatal")
        c.log.Error("handler failed", zap.Stringer("intent", r.ID), zap.Stringer("type", r.Type), zap.Error(err))
        c.fail(fmt.Errorf("server: %s on intent %s: %w", r.Type, r.ID, err))
    }
}

// reject answers a protocol violation without involving the handler.
func (c *Connection) reject(r protocol.Request, reason string) {
    c.log.Error("protocol violation", zap.Stringer("intent", r.ID), zap.Stringer("type", r.Type), zap.String("reason", reason))
    c.reply(protocol.Response{ID: r.ID, Type: protocol.ResponseError, Payload: []byte(reason)})
}

// reply writes r from its own goroutine. The read loop never writes, so a
// peer that is blocked writing to us is always drained.
func (c *Connection) reply(r protocol.Response) {
    c.wg.Add(1)
    go func() {
        defer c.wg.Done()
        c.send(r)
    }()
}

func (c *Connection) send(r protocol.Response) {
    if err := c.conn.SendResponse(&r); err != nil {
        c.log.Debug("response not sent", zap.Stringer("intent", r.ID), zap.Stringer("type", r.Type), zap.Error(err))
    }
}

// fail records the first fatal error and closes the stream, which ends the
// read loop.
func (c *Connection) fail(err error) {
    c.mu.Lock()
    if c.fatal == nil { c.fatal = err }
    c.mu.Unlock()
    _ = c.conn.Close()
}

func (c *Connection) result() error {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.fatal
}

// resetOpen calls Reset once for every intent that never reached a terminal
// request. ctx must not be cancellable.
func (c *Connection) resetOpen(ctx context.Context) int {
    c.mu.Lock()
    left := c.open
    c.open = make(map[protocol.IntentID]*tracked)
    c.mu.Unlock()

    for id, t := range left {
        if err := call(ctx, c.handler, protocol.RequestReset, t.intent, nil); err != nil {
            c.log.Error("reset on teardown failed", zap.Stringer("intent", id), zap.Error(err))
        } else {
            c.log.Info("intent reset on teardown", zap.Stringer("intent", id))
        }
        c.opts.Metrics.TeardownReset()
        c.opts.Metrics.IntentFinalized()
    }
    return len(left)
}

func (c *Connection) heartbeatLoop(ctx context.Context) {
    defer c.wg.Done()
    tk := time.NewTicker(c.opts.HeartbeatInterval)
    defer tk.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-tk.C:
        }
        expired, missed := c.hb.Sweep(c.opts.HeartbeatInterval)
        if expired > 0 {
            c.opts.Metrics.HeartbeatMissed(expired)
            c.log.Warn("heartbeat missed", zap.Int("consecutive", missed),
                zap.Int("outstanding", c.hb.Outstanding()), zap.Duration("last_rtt", c.hb.LastRTT()))
        }
        if c.opts.HeartbeatMissLimit > 0 && missed >= c.opts.HeartbeatMissLimit {
            c.fail(fmt.Errorf("%w: %d pings unanswered", ErrHeartbeatTimeout, missed))
            return
        }
        id, token, err := c.hb.Next()
        if err != nil {
            c.log.Error("heartbeat id", zap.Error(err))
            continue
        }
        if err := c.conn.SendResponse(&protocol.Response{ID: id, Type: protocol.ResponsePing, Payload: token}); err != nil {
            c.log.Debug("heartbeat stopped", zap.Error(err))
            return
        }
    }
}
