package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os/signal"
    "sync"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"

    "intentlog/pkg/config"
    "intentlog/pkg/journal"
    "intentlog/pkg/journal/badgerstore"
    "intentlog/pkg/journal/memstore"
    "intentlog/pkg/metrics"
    "intentlog/pkg/observability"
    "intentlog/pkg/server"
    "intentlog/pkg/transport"
    "intentlog/pkg/transport/transports"
)

// run is the main entry point after CLI parsing.
func run(parent context.Context, opts Options) error {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil { return fmt.Errorf("load config: %w", err) }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil { return fmt.Errorf("setup logger: %w", err) }
    defer func() { _ = logger.Sync() }()

    // Startup logs + configuration dump
    zap.L().Info("intentlog-server started", zap.String("app", cfg.AppName))
    zap.L().Info("effective configuration", zap.Any("config", cfg))

    if parent == nil { parent = context.Background() }
    ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    reg := prometheus.NewRegistry()
    reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    m, err := metrics.New(reg)
    if err != nil { return err }

    store, err := openStore(cfg.Journal, logger)
    if err != nil { return err }
    defer func() {
        if err := store.Close(); err != nil { zap.L().Warn("journal close", zap.Error(err)) }
    }()
    srv := newServer(*cfg, store, m, logger)

    listeners, err := listen(ctx, cfg.Listen)
    if err != nil { return err }
    if len(listeners) == 0 { return errors.New("no listen endpoints configured") }

    var wg sync.WaitGroup
    errc := make(chan error, len(listeners))
    for _, ln := range listeners {
        wg.Add(1)
        go func(ln transport.Listener) {
            defer wg.Done()
            if err := srv.Serve(ctx, ln); err != nil {
                errc <- fmt.Errorf("serve %s: %w", ln.Addr(), err)
            }
        }(ln)
    }

    if cfg.Metrics.Listen != "" {
        hs := serveMetrics(cfg.Metrics.Listen, reg)
        defer func() {
            sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
            defer cancel()
            _ = hs.Shutdown(sctx)
        }()
    }

    zap.L().Info("server is running; press Ctrl+C to exit")
    var serveErr error
    select {
    case <-ctx.Done():
    case serveErr = <-errc:
        zap.L().Error("listener failed", zap.Error(serveErr))
        stop()
    }
    wg.Wait()
    zap.L().Info("intentlog-server stopped")
    return serveErr
}

// newServer wires the journal behind the protocol server. Both components
// name their own loggers, so they get the root logger here.
func newServer(cfg config.Config, store journal.Store, m *metrics.Metrics, logger *zap.Logger) *server.Server {
    j := journal.New(store, journal.Options{
        Logger:       logger,
        MaxStepBytes: cfg.Journal.MaxStepBytes,
        Retention:    cfg.Journal.Retention,
    })
    return &server.Server{
        Handler: j,
        Options: server.Options{
            Logger:             logger,
            HeartbeatInterval:  cfg.Protocol.HeartbeatInterval(),
            HeartbeatMissLimit: cfg.Protocol.HeartbeatMissLimit,
            MaxPayload:         cfg.Protocol.MaxPayloadBytes,
            Metrics:            m,
        },
    }
}

func openStore(c config.JournalConfig, logger *zap.Logger) (journal.Store, error) {
    switch c.Backend {
    case "badger":
        s, err := badgerstore.Open(badgerstore.Options{Path: c.Path, SyncWrites: c.SyncWrites, Logger: logger})
        if err != nil { return nil, fmt.Errorf("open badger journal: %w", err) }
        return s, nil
    default:
        return memstore.New(memstore.Options{Shards: c.Shards, MaxBytes: c.MaxBytes}), nil
    }
}

// listen opens every configured endpoint; on failure the ones already open
// are closed again.
func listen(ctx context.Context, eps []config.ListenConfig) ([]transport.Listener, error) {
    var out []transport.Listener
    for _, ep := range eps {
        tr, err := transports.NewByName(ep.Kind)
        if err == nil {
            var ln transport.Listener
            ln, err = tr.Listen(ctx, ep.Address)
            if err == nil {
                zap.L().Info("listening", zap.Stringer("kind", tr.Kind()), zap.Stringer("addr", ln.Addr()))
                out = append(out, ln)
                continue
            }
        }
        for _, ln := range out { _ = ln.Close() }
        return nil, fmt.Errorf("listen %s %s: %w", ep.Kind, ep.Address, err)
    }
    return out, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
    hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
    go func() {
        zap.L().Info("metrics endpoint", zap.String("addr", addr))
        if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            zap.L().Error("metrics endpoint failed", zap.Error(err))
        }
    }()
    return hs
}
