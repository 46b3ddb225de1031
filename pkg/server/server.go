package server

import (
    "context"
    "errors"
    "sync"
    "sync/atomic"

    "go.uber.org/zap"

    "intentlog/pkg/transport"
)

// Server serves one Connection per stream accepted from a listener. All
// connections share Handler and Options.
type Server struct {
    Handler Handler
    Options Options

    seq atomic.Uint64
}

// Serve accepts until ctx is done or the listener fails, then waits for the
// live connections to finish their teardown. Cancelling ctx ends every
// connection. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
    log := s.Options.Logger
    if log == nil { log = zap.L() }
    log = log.With(zap.Stringer("listen", ln.Addr()))

    stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
    defer stop()

    var wg sync.WaitGroup
    defer wg.Wait()
    log.Info("serving")
    for {
        st, err := ln.Accept(ctx)
        if err != nil {
            if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
                log.Info("listener stopped")
                return nil
            }
            return err
        }
        opts := s.Options
        opts.Logger = log.With(zap.Uint64("conn", s.seq.Add(1)), zap.Stringer("remote", st.RemoteAddr()))
        c := NewConnection(s.Handler, st, opts)
        wg.Add(1)
        go func() {
            defer wg.Done()
            opts.Metrics.ConnectionUp()
            defer opts.Metrics.ConnectionDown()
            opts.Logger.Debug("connection accepted")
            _ = c.Serve(ctx)
        }()
    }
}
