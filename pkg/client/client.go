// Package client is the requesting side of the intent protocol: it opens
// intents on a remote handler and drives them to a terminal state.
package client

import (
    "context"
    "errors"
    "fmt"
    "io"
    "time"

    "go.uber.org/zap"

    "intentlog/pkg/core/pending"
    "intentlog/pkg/metrics"
    "intentlog/pkg/protocol"
    "intentlog/pkg/stream"
)

type Options struct {
    // Logger defaults to zap.L().
    Logger *zap.Logger
    // MaxPayload caps inbound payloads; zero means unbounded.
    MaxPayload uint32
    Metrics    *metrics.Metrics
    // OnPong, when set, sees every Pong from the remote. It runs on the read
    // loop and must not block.
    OnPong func(id protocol.IntentID, payload []byte)
}

// Client multiplexes any number of intents over one duplex stream. Responses
// may arrive in any order; they are matched to their request by intent id.
type Client struct {
    conn    *stream.Conn
    pending *pending.Table[protocol.IntentID, protocol.Response]
    log     *zap.Logger
    metrics *metrics.Metrics
    onPong  func(protocol.IntentID, []byte)

    done chan struct{}
    err  error
}

// New wraps rwc and starts the read loop. The client owns rwc from now on.
func New(rwc io.ReadWriteCloser, opts Options) *Client {
    log := opts.Logger
    if log == nil { log = zap.L() }
    c := &Client{
        conn:    stream.New(rwc, opts.MaxPayload),
        pending: pending.New[protocol.IntentID, protocol.Response](),
        log:     log.Named("client"),
        metrics: opts.Metrics,
        onPong:  opts.OnPong,
        done:    make(chan struct{}),
    }
    if opts.Metrics != nil {
        c.conn.OnRead = opts.Metrics.FrameIn
        c.conn.OnWrite = opts.Metrics.FrameOut
    }
    go c.readLoop()
    return c
}

// Open reserves a new intent on the remote side. A rejected Open yields a
// *RemoteError; the remote keeps the intent until this connection ends.
func (c *Client) Open(ctx context.Context, payload []byte) (*Intent, error) {
    id, err := protocol.NewIntentID()
    if err != nil { return nil, fmt.Errorf("client: new intent id: %w", err) }
    if _, err := c.roundTrip(ctx, protocol.Request{ID: id, Type: protocol.RequestOpen, Payload: payload}); err != nil {
        return nil, err
    }
    return &Intent{c: c, id: id, releaseType: protocol.RequestClose}, nil
}

// Ping sends a fire-and-forget Ping. The remote answers with a Pong, which
// the read loop hands to Options.OnPong or discards.
func (c *Client) Ping(payload []byte) error {
    id, err := protocol.NewIntentID()
    if err != nil { return err }
    return c.conn.SendRequest(&protocol.Request{ID: id, Type: protocol.RequestPing, Payload: payload})
}

// Close closes the stream and waits for the read loop to stop. Pending
// requests fail with protocol.ErrEndOfStream.
func (c *Client) Close() error {
    err := c.conn.Close()
    <-c.done
    return err
}

// Done is closed once the read loop has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the read loop stopped, nil while it is running.
func (c *Client) Err() error {
    select {
    case <-c.done:
        return c.err
    default:
        return nil
    }
}

// roundTrip sends req and waits for its Success or Error response. On
// cancellation the slot stays reserved until the late response arrives.
func (c *Client) roundTrip(ctx context.Context, req protocol.Request) ([]byte, error) {
    ch, err := c.pending.Register(req.ID)
    if err != nil { return nil, err }
    start := time.Now()
    if err := c.conn.SendRequest(&req); err != nil {
        c.pending.Remove(req.ID)
        c.metrics.ObserveRoundTrip(req.Type.String(), "eos", time.Since(start))
        return nil, err
    }

    var res pending.Result[protocol.Response]
    select {
    case res = <-ch:
    case <-ctx.Done():
        if c.pending.Abandon(req.ID) {
            c.log.Debug("request abandoned", zap.Stringer("intent", req.ID), zap.Stringer("type", req.Type),
                zap.Int("pending", c.pending.Len()))
            return nil, ctx.Err()
        }
        // answered while we were giving up
        res = <-ch
    }
    if res.Err != nil {
        c.metrics.ObserveRoundTrip(req.Type.String(), "eos", time.Since(start))
        return nil, res.Err
    }
    if res.Value.Type == protocol.ResponseError {
        c.metrics.ObserveRoundTrip(req.Type.String(), "error", time.Since(start))
        return nil, &RemoteError{ID: req.ID, Request: req.Type, Payload: res.Value.Payload}
    }
    c.metrics.ObserveRoundTrip(req.Type.String(), "success", time.Since(start))
    return res.Value.Payload, nil
}

func (c *Client) readLoop() {
    var err error
    for {
        var r protocol.Response
        if r, err = c.conn.RecvResponse(); err != nil { break }
        switch r.Type {
        case protocol.ResponsePing:
            // answered inline so a heartbeat never waits behind a slow waiter
            pong := protocol.Request{ID: r.ID, Type: protocol.RequestPong, Payload: r.Payload}
            if err := c.conn.SendRequest(&pong); err != nil {
                c.log.Debug("pong not sent", zap.Stringer("intent", r.ID), zap.Error(err))
            }
        case protocol.ResponsePong:
            c.log.Debug("pong received", zap.Stringer("intent", r.ID))
            if c.onPong != nil { c.onPong(r.ID, r.Payload) }
        case protocol.ResponseSuccess, protocol.ResponseError:
            if !c.pending.Complete(r.ID, r) {
                c.metrics.UnknownID()
                c.log.Error("response for unknown intent", zap.Stringer("intent", r.ID), zap.Stringer("type", r.Type))
            }
        default:
            c.log.Error("unknown response type", zap.Stringer("intent", r.ID), zap.Stringer("type", r.Type))
        }
    }
    c.terminate(err)
}

func (c *Client) terminate(err error) {
    if !errors.Is(err, protocol.ErrEndOfStream) {
        c.log.Error("read loop failed", zap.Error(err))
        err = fmt.Errorf("%w: %w", protocol.ErrEndOfStream, err)
    }
    c.err = err
    _ = c.conn.Close()
    if n := c.pending.Fail(err); n > 0 {
        c.log.Info("stream ended with requests pending", zap.Int("pending", n), zap.Error(err))
    } else {
        c.log.Debug("stream ended", zap.Error(err))
    }
    close(c.done)
}
