package transport

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net"
    "strings"
    "sync"
)

// ErrListenerClosed is returned by Accept once the listener was closed.
var ErrListenerClosed = errors.New("transport: listener closed")

// Kind identifies a transport implementation.
type Kind int

const (
    KindUnknown Kind = iota
    KindTCP
    KindQUIC
    KindWinPipe
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindTCP:
        return "tcp"
    case KindQUIC:
        return "quic"
    case KindWinPipe:
        return "winpipe"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// ParseKind is the inverse of Kind.String, case-insensitive.
func ParseKind(s string) (Kind, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "tcp":
        return KindTCP, nil
    case "quic":
        return KindQUIC, nil
    case "winpipe", "pipe":
        return KindWinPipe, nil
    case "mem":
        return KindMem, nil
    }
    return KindUnknown, fmt.Errorf("transport: unknown kind %q", s)
}

// Stream is a duplex byte stream. One reader and any number of serialised
// writers are expected; Close releases both directions.
type Stream interface {
    io.ReadWriteCloser
    LocalAddr() net.Addr
    RemoteAddr() net.Addr
}

// Listener accepts inbound streams.
type Listener interface {
    // Accept blocks until an inbound stream is available or ctx is done.
    Accept(ctx context.Context) (Stream, error)
    // Addr returns the local listening address.
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    // Listen starts accepting inbound streams on address (transport-specific
    // format). The listener is closed when ctx is done.
    Listen(ctx context.Context, address string) (Listener, error)
    // Dial opens an outbound stream. ctx bounds the dial only.
    Dial(ctx context.Context, address string) (Stream, error)
}

// Queue hands accepted streams from an accept loop to Accept callers.
// Implementations embed it in their listener.
type Queue struct {
    ch     chan Stream
    once   sync.Once
    closed chan struct{}
}

func NewQueue(backlog int) *Queue {
    return &Queue{ch: make(chan Stream, backlog), closed: make(chan struct{})}
}

// Push waits for room in the backlog. It closes s and returns false when the
// queue is closed first.
func (q *Queue) Push(s Stream) bool {
    select {
    case q.ch <- s:
        return true
    case <-q.closed:
        _ = s.Close()
        return false
    }
}

// Pop returns the next stream, or an error once ctx is done or the queue
// is closed.
func (q *Queue) Pop(ctx context.Context) (Stream, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-q.closed:
        return nil, ErrListenerClosed
    case s := <-q.ch:
        return s, nil
    }
}

// Close is idempotent.
func (q *Queue) Close() { q.once.Do(func() { close(q.closed) }) }

// Done is closed by Close.
func (q *Queue) Done() <-chan struct{} { return q.closed }
