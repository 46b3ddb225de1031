package heartbeat

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "intentlog/pkg/protocol"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor() (*Monitor, *fakeClock) {
    clk := &fakeClock{t: time.Unix(1700000000, 0)}
    m := NewMonitor()
    m.now = clk.now
    return m, clk
}

func TestAckMatchesOutstandingPing(t *testing.T) {
    m, clk := newTestMonitor()
    id, token, err := m.Next()
    require.NoError(t, err)
    require.Len(t, token, 8)
    assert.Equal(t, 1, m.Outstanding())

    clk.advance(15 * time.Millisecond)
    rtt, ok := m.Ack(id, token)
    assert.True(t, ok)
    assert.Equal(t, 15*time.Millisecond, rtt)
    assert.Equal(t, rtt, m.LastRTT())
    assert.Equal(t, 0, m.Outstanding())

    _, ok = m.Ack(id, token)
    assert.False(t, ok, "a pong is only matched once")
}

func TestAckRejectsWrongToken(t *testing.T) {
    m, _ := newTestMonitor()
    id, _, err := m.Next()
    require.NoError(t, err)
    _, ok := m.Ack(id, []byte("other"))
    assert.False(t, ok)
    _, ok = m.Ack(protocol.IntentID{1}, nil)
    assert.False(t, ok)
    assert.Equal(t, 1, m.Outstanding())
}

func TestTokensAreDistinct(t *testing.T) {
    m, _ := newTestMonitor()
    _, t1, err := m.Next()
    require.NoError(t, err)
    _, t2, err := m.Next()
    require.NoError(t, err)
    assert.NotEqual(t, t1, t2)
}

func TestSweepCountsMissedAndAckResets(t *testing.T) {
    m, clk := newTestMonitor()
    _, _, err := m.Next()
    require.NoError(t, err)
    clk.advance(time.Second)
    _, _, err = m.Next()
    require.NoError(t, err)

    expired, missed := m.Sweep(time.Second)
    assert.Equal(t, 1, expired, "only the older ping expired")
    assert.Equal(t, 1, missed)
    clk.advance(time.Second)
    expired, missed = m.Sweep(time.Second)
    assert.Equal(t, 1, expired)
    assert.Equal(t, 2, missed)
    assert.Equal(t, 0, m.Outstanding())

    id, token, err := m.Next()
    require.NoError(t, err)
    _, ok := m.Ack(id, token)
    require.True(t, ok)
    _, missed = m.Sweep(time.Second)
    assert.Equal(t, 0, missed)
}
