// Package mem is an in-process transport using net.Pipe. Useful for tests
// and for embedding client and server in one binary.
package mem

import (
    "context"
    "fmt"
    "net"
    "sync"

    "intentlog/pkg/transport"
)

// Transport keeps a registry of named listeners.
type Transport struct {
    mu        sync.Mutex
    listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
    t.mu.Lock()
    defer t.mu.Unlock()
    if _, ok := t.listeners[name]; ok {
        return nil, fmt.Errorf("mem: listener %q already exists", name)
    }
    l := &listener{t: t, name: name, q: transport.NewQueue(8)}
    t.listeners[name] = l
    context.AfterFunc(ctx, func() { _ = l.Close() })
    return l, nil
}

// Dial hands the far end of a fresh pipe to the named listener.
func (t *Transport) Dial(ctx context.Context, name string) (transport.Stream, error) {
    t.mu.Lock()
    l := t.listeners[name]
    t.mu.Unlock()
    if l == nil { return nil, fmt.Errorf("mem: no listener %q", name) }

    srv, cli := net.Pipe()
    pushed := make(chan bool, 1)
    go func() { pushed <- l.q.Push(&conn{Conn: srv, local: addr(name), remote: addr(name + ":client")}) }()
    select {
    case ok := <-pushed:
        if !ok {
            _ = cli.Close()
            return nil, fmt.Errorf("mem: dial %q: %w", name, transport.ErrListenerClosed)
        }
    case <-ctx.Done():
        // the accept side sees a stream that is already closed
        _ = cli.Close()
        return nil, ctx.Err()
    }
    return &conn{Conn: cli, local: addr(name + ":client"), remote: addr(name)}, nil
}

type listener struct {
    t    *Transport
    name string
    q    *transport.Queue
}

func (l *listener) Addr() net.Addr { return addr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) { return l.q.Pop(ctx) }

func (l *listener) Close() error {
    l.q.Close()
    l.t.mu.Lock()
    if l.t.listeners[l.name] == l { delete(l.t.listeners, l.name) }
    l.t.mu.Unlock()
    return nil
}

type addr string

func (a addr) Network() string { return "mem" }
func (a addr) String() string  { return string(a) }

// conn reports mem addresses instead of the generic pipe ones.
type conn struct {
    net.Conn
    local, remote net.Addr
}

func (c *conn) LocalAddr() net.Addr  { return c.local }
func (c *conn) RemoteAddr() net.Addr { return c.remote }
