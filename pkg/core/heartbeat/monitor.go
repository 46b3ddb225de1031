// Package heartbeat keeps the bookkeeping of unsolicited pings: which ping
// tokens are outstanding, how long pongs take, and how many went unanswered.
package heartbeat

import (
    "encoding/binary"
    "sync"
    "time"

    "intentlog/pkg/protocol"
)

// Monitor is safe for concurrent use. A Monitor never blocks the request path;
// it only records what was sent and what came back.
type Monitor struct {
    mu          sync.Mutex
    seq         uint64
    outstanding map[protocol.IntentID]ping
    missed      int
    lastRTT     time.Duration
    now         func() time.Time
}

type ping struct {
    token  []byte
    sentAt time.Time
}

func NewMonitor() *Monitor {
    return &Monitor{outstanding: make(map[protocol.IntentID]ping), now: time.Now}
}

// Next allocates the id and token of a new ping and marks it outstanding.
// The token is the little-endian sequence number of the ping.
func (m *Monitor) Next() (protocol.IntentID, []byte, error) {
    id, err := protocol.NewIntentID()
    if err != nil { return id, nil, err }
    m.mu.Lock()
    defer m.mu.Unlock()
    m.seq++
    token := make([]byte, 8)
    binary.LittleEndian.PutUint64(token, m.seq)
    m.outstanding[id] = ping{token: token, sentAt: m.now()}
    return id, token, nil
}

// Ack records a pong. It returns the round trip time and whether the pong
// matched an outstanding ping with the same token. Any answer resets the
// missed counter.
func (m *Monitor) Ack(id protocol.IntentID, token []byte) (time.Duration, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    p, ok := m.outstanding[id]
    if !ok || string(p.token) != string(token) { return 0, false }
    delete(m.outstanding, id)
    m.missed = 0
    m.lastRTT = m.now().Sub(p.sentAt)
    return m.lastRTT, true
}

// Sweep drops pings older than maxAge and counts them as missed. It returns
// how many expired now and the consecutive missed count.
func (m *Monitor) Sweep(maxAge time.Duration) (expired, missed int) {
    m.mu.Lock()
    defer m.mu.Unlock()
    cutoff := m.now().Add(-maxAge)
    for id, p := range m.outstanding {
        if !p.sentAt.After(cutoff) {
            delete(m.outstanding, id)
            expired++
        }
    }
    m.missed += expired
    return expired, m.missed
}

// Outstanding returns the number of unanswered pings.
func (m *Monitor) Outstanding() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.outstanding)
}

// LastRTT returns the round trip time of the most recent matched pong.
func (m *Monitor) LastRTT() time.Duration {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.lastRTT
}
