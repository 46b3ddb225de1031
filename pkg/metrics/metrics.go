// Package metrics exposes Prometheus collectors for both sides of the intent
// protocol. A nil *Metrics is valid and records nothing.
package metrics

import (
    "time"

    "github.com/prometheus/client_golang/prometheus"
)

const namespace = "intentlog"

// Metrics groups the collectors shared by clients and connections.
type Metrics struct {
    FramesIn         *prometheus.CounterVec
    FramesOut        *prometheus.CounterVec
    BytesIn          prometheus.Counter
    BytesOut         prometheus.Counter
    OpenIntents      prometheus.Gauge
    Connections      prometheus.Gauge
    HandlerFailures  *prometheus.CounterVec
    Resets           prometheus.Counter
    RoundTrip        *prometheus.HistogramVec
    HeartbeatRTT     prometheus.Histogram
    HeartbeatsMissed prometheus.Counter
    UnknownIDs       prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is handy in tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
    m := &Metrics{
        FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
            Namespace: namespace, Name: "frames_in_total",
            Help: "Frames read from the stream, by direction-prefixed frame type.",
        }, []string{"type"}),
        FramesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
            Namespace: namespace, Name: "frames_out_total",
            Help: "Frames written to the stream, by direction-prefixed frame type.",
        }, []string{"type"}),
        BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: namespace, Name: "bytes_in_total",
            Help: "Encoded frame bytes read, header included.",
        }),
        BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: namespace, Name: "bytes_out_total",
            Help: "Encoded frame bytes written, header included.",
        }),
        OpenIntents: prometheus.NewGauge(prometheus.GaugeOpts{
            Namespace: namespace, Name: "open_intents",
            Help: "Intents opened on the server and not yet finalized.",
        }),
        Connections: prometheus.NewGauge(prometheus.GaugeOpts{
            Namespace: namespace, Name: "connections",
            Help: "Live server connections.",
        }),
        HandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
            Namespace: namespace, Name: "handler_failures_total",
            Help: "Handler calls that failed, by request type and kind (controlled, fatal).",
        }, []string{"type", "kind"}),
        Resets: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: namespace, Name: "teardown_resets_total",
            Help: "Intents reset because their connection went away.",
        }),
        RoundTrip: prometheus.NewHistogramVec(prometheus.HistogramOpts{
            Namespace: namespace, Name: "round_trip_seconds",
            Help:    "Client request latency until the response arrived.",
            Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
        }, []string{"type", "outcome"}),
        HeartbeatRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
            Namespace: namespace, Name: "heartbeat_rtt_seconds",
            Help:    "Time between a heartbeat ping and its pong.",
            Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
        }),
        HeartbeatsMissed: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: namespace, Name: "heartbeats_missed_total",
            Help: "Heartbeat pings that expired without a pong.",
        }),
        UnknownIDs: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: namespace, Name: "unknown_correlation_total",
            Help: "Responses whose id matched no pending request.",
        }),
    }
    if reg == nil { return m, nil }
    for _, c := range m.collectors() {
        if err := reg.Register(c); err != nil { return nil, err }
    }
    return m, nil
}

// MustNew is New that panics on registration errors.
func MustNew(reg prometheus.Registerer) *Metrics {
    m, err := New(reg)
    if err != nil { panic(err) }
    return m
}

func (m *Metrics) collectors() []prometheus.Collector {
    return []prometheus.Collector{
        m.FramesIn, m.FramesOut, m.BytesIn, m.BytesOut, m.OpenIntents, m.Connections,
        m.HandlerFailures, m.Resets, m.RoundTrip, m.HeartbeatRTT, m.HeartbeatsMissed, m.UnknownIDs,
    }
}

// FrameIn matches the stream.Conn OnRead hook.
func (m *Metrics) FrameIn(typ string, n int) {
    if m == nil { return }
    m.FramesIn.WithLabelValues(typ).Inc()
    m.BytesIn.Add(float64(n))
}

// FrameOut matches the stream.Conn OnWrite hook.
func (m *Metrics) FrameOut(typ string, n int) {
    if m == nil { return }
    m.FramesOut.WithLabelValues(typ).Inc()
    m.BytesOut.Add(float64(n))
}

func (m *Metrics) IntentOpened() {
    if m == nil { return }
    m.OpenIntents.Inc()
}

func (m *Metrics) IntentFinalized() {
    if m == nil { return }
    m.OpenIntents.Dec()
}

func (m *Metrics) ConnectionUp() {
    if m == nil { return }
    m.Connections.Inc()
}

func (m *Metrics) ConnectionDown() {
    if m == nil { return }
    m.Connections.Dec()
}

// HandlerFailed counts a failed handler call; kind is "controlled" or "fatal".
func (m *Metrics) HandlerFailed(typ, kind string) {
    if m == nil { return }
    m.HandlerFailures.WithLabelValues(typ, kind).Inc()
}

func (m *Metrics) TeardownReset() {
    if m == nil { return }
    m.Resets.Inc()
}

// ObserveRoundTrip records a client round trip; outcome is "success",
// "error" or "eos".
func (m *Metrics) ObserveRoundTrip(typ, outcome string, d time.Duration) {
    if m == nil { return }
    m.RoundTrip.WithLabelValues(typ, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveHeartbeat(d time.Duration) {
    if m == nil { return }
    m.HeartbeatRTT.Observe(d.Seconds())
}

func (m *Metrics) HeartbeatMissed(n int) {
    if m == nil { return }
    m.HeartbeatsMissed.Add(float64(n))
}

func (m *Metrics) UnknownID() {
    if m == nil { return }
    m.UnknownIDs.Inc()
}
