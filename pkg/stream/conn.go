// Package stream frames intent protocol messages over a duplex byte stream.
package stream

import (
    "bufio"
    "io"
    "sync"

    "intentlog/pkg/protocol"
)

// Conn wraps an io.ReadWriteCloser to send/receive protocol frames.
//
// Writes from any goroutine are serialised so frame boundaries stay intact;
// reads are expected from a single read loop. Close is idempotent and makes
// pending and future reads observe end of stream.
type Conn struct {
    rwc io.ReadWriteCloser
    dec *protocol.Decoder

    wmu sync.Mutex
    bw  *bufio.Writer

    closeOnce sync.Once
    closeErr  error
    closed    chan struct{}

    // OnWrite/OnRead observe each frame after it crossed the wire. typ is
    // one of a fixed set of labels, see RequestLabel and ResponseLabel.
    OnWrite func(typ string, n int)
    OnRead  func(typ string, n int)
}

// New wraps rwc. maxPayload caps inbound payloads; zero leaves them unbounded.
func New(rwc io.ReadWriteCloser, maxPayload uint32) *Conn {
    dec := protocol.NewDecoder(bufio.NewReader(rwc))
    dec.MaxPayload = maxPayload
    return &Conn{rwc: rwc, dec: dec, bw: bufio.NewWriter(rwc), closed: make(chan struct{})}
}

// SendRequest writes one request frame and flushes it.
func (c *Conn) SendRequest(r *protocol.Request) error {
    return c.send(r, RequestLabel(r.Type), len(r.Payload))
}

// SendResponse writes one response frame and flushes it.
func (c *Conn) SendResponse(r *protocol.Response) error {
    return c.send(r, ResponseLabel(r.Type), len(r.Payload))
}

func (c *Conn) send(w io.WriterTo, typ string, n int) error {
    c.wmu.Lock()
    defer c.wmu.Unlock()
    select {
    case <-c.closed:
        return protocol.EndOfStream(io.ErrClosedPipe)
    default:
    }
    if _, err := w.WriteTo(c.bw); err != nil {
        c.bw.Reset(c.rwc)
        return err
    }
    if err := c.bw.Flush(); err != nil {
        c.bw.Reset(c.rwc)
        return protocol.EndOfStream(err)
    }
    if c.OnWrite != nil { c.OnWrite(typ, protocol.FrameSize(n)) }
    return nil
}

// RecvRequest reads the next request frame.
func (c *Conn) RecvRequest() (protocol.Request, error) {
    r, err := c.dec.ReadRequest()
    if err != nil { return r, c.readErr(err) }
    if c.OnRead != nil { c.OnRead(RequestLabel(r.Type), protocol.FrameSize(len(r.Payload))) }
    return r, nil
}

// RecvResponse reads the next response frame.
func (c *Conn) RecvResponse() (protocol.Response, error) {
    r, err := c.dec.ReadResponse()
    if err != nil { return r, c.readErr(err) }
    if c.OnRead != nil { c.OnRead(ResponseLabel(r.Type), protocol.FrameSize(len(r.Payload))) }
    return r, nil
}

// RequestLabel names a request frame for observers. Codes outside the
// protocol share "req_unknown" so a peer cannot grow the label set.
func RequestLabel(t protocol.RequestType) string {
    if !t.Valid() { return "req_unknown" }
    return "req_" + t.String()
}

// ResponseLabel is RequestLabel for response frames.
func ResponseLabel(t protocol.ResponseType) string {
    if !t.Valid() { return "resp_unknown" }
    return "resp_" + t.String()
}

// readErr reports any failure after a local Close as end of stream; the
// transport's own error for a locally closed handle varies by kind.
func (c *Conn) readErr(err error) error {
    select {
    case <-c.closed:
        return protocol.EndOfStream(io.ErrClosedPipe)
    default:
        return err
    }
}

// Close closes the underlying stream once; later calls return the first result.
func (c *Conn) Close() error {
    c.closeOnce.Do(func() {
        close(c.closed)
        c.closeErr = c.rwc.Close()
    })
    return c.closeErr
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.closed }
