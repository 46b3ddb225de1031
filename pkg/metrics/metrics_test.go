package metrics

import (
    "testing"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/testutil"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
    var m *Metrics
    assert.NotPanics(t, func() {
        m.FrameIn("req_open", 10)
        m.FrameOut("resp_success", 24)
        m.IntentOpened()
        m.IntentFinalized()
        m.ConnectionUp()
        m.ConnectionDown()
        m.HandlerFailed("amend", "controlled")
        m.TeardownReset()
        m.ObserveRoundTrip("open", "success", time.Millisecond)
        m.ObserveHeartbeat(time.Millisecond)
        m.HeartbeatMissed(2)
        m.UnknownID()
    })
}

func TestCountersMove(t *testing.T) {
    reg := prometheus.NewRegistry()
    m, err := New(reg)
    require.NoError(t, err)

    m.FrameIn("req_open", 30)
    m.FrameIn("req_open", 24)
    m.FrameOut("resp_success", 24)
    m.IntentOpened()
    m.IntentOpened()
    m.IntentFinalized()
    m.HandlerFailed("close", "fatal")

    assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesIn.WithLabelValues("req_open")))
    assert.Equal(t, 54.0, testutil.ToFloat64(m.BytesIn))
    assert.Equal(t, 24.0, testutil.ToFloat64(m.BytesOut))
    assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenIntents))
    assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerFailures.WithLabelValues("close", "fatal")))

    n, err := testutil.GatherAndCount(reg, "intentlog_frames_in_total")
    require.NoError(t, err)
    assert.Equal(t, 1, n)
}

func TestDoubleRegistrationFails(t *testing.T) {
    reg := prometheus.NewRegistry()
    _, err := New(reg)
    require.NoError(t, err)
    _, err = New(reg)
    assert.Error(t, err)
    assert.Panics(t, func() { MustNew(reg) })
}
