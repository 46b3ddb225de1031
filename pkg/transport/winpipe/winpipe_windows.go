//go:build windows

// Package winpipe carries one intent protocol stream per Windows named pipe
// connection.
package winpipe

import (
    "context"
    "net"

    "github.com/Microsoft/go-winio"

    "intentlog/pkg/transport"
)

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

// Listen takes a pipe path such as \\.\pipe\intentlog.
func (t *Transport) Listen(ctx context.Context, pipeName string) (transport.Listener, error) {
    l, err := winio.ListenPipe(pipeName, &winio.PipeConfig{MessageMode: false})
    if err != nil { return nil, err }
    wl := &listener{l: l, q: transport.NewQueue(8)}
    go wl.acceptLoop()
    context.AfterFunc(ctx, func() { _ = wl.Close() })
    return wl, nil
}

func (t *Transport) Dial(ctx context.Context, pipeName string) (transport.Stream, error) {
    c, err := winio.DialPipeContext(ctx, pipeName)
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
        if !l.q.Push(c) { return }
    }
}
