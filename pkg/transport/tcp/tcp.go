// Package tcp carries one intent protocol stream per TCP connection.
package tcp

import (
    "context"
    "net"

    "intentlog/pkg/transport"
)

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    lc := net.ListenConfig{}
    l, err := lc.Listen(ctx, "tcp", address)
    if err != nil { return nil, err }
    tl := &listener{l: l, q: transport.NewQueue(8)}
    go tl.acceptLoop()
    context.AfterFunc(ctx, func() { _ = tl.Close() })
    return tl, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Stream, error) {
    d := &net.Dialer{}
    c, err := d.DialContext(ctx, "tcp", address)
    if err != nil { return nil, err }
    return c, nil
}

type listener struct {
    l net.Listener
    q *transport.Queue
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) { return l.q.Pop(ctx) }

func (l *listener) Close() error {
    l.q.Close()
    return l.l.Close()
}

func (l *listener) acceptLoop() {
    for {
        c, err := l.l.Accept()
        if err != nil {
            l.q.Close()
            return
        }
        if tc, ok := c.(*net.TCPConn); ok { _ = tc.SetNoDelay(true) }
        if !l.q.Push(c) { return }
    }
}
