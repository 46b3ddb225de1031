// Package pending correlates outstanding requests with the single waiter
// allowed per correlation key.
package pending

import (
    "errors"
    "sync"
)

var (
    // ErrInFlight is returned by Register when the key already has a waiter
    // (or an abandoned slot whose answer has not arrived yet).
    ErrInFlight = errors.New("pending: request already in flight")
    // ErrClosed is returned by Register after Fail; the table error is
    // joined with it.
    ErrClosed = errors.New("pending: table closed")
)

// Result is delivered to a waiter exactly once.
type Result[V any] struct {
    Value V
    Err   error
}

type slot[V any] struct {
    ch        chan Result[V]
    abandoned bool
}

// Table maps keys to their outstanding waiter. Entries are inserted once per
// key and removed when completed, failed, or (for abandoned slots) when the
// late answer shows up.
type Table[K comparable, V any] struct {
    mu     sync.Mutex
    slots  map[K]*slot[V]
    closed error
}

func New[K comparable, V any]() *Table[K, V] {
    return &Table[K, V]{slots: make(map[K]*slot[V])}
}

// Register reserves k and returns the channel its result will be sent on.
func (t *Table[K, V]) Register(k K) (<-chan Result[V], error) {
    t.mu.Lock()
    defer t.mu.Unlock()
    if t.closed != nil {
        return nil, errors.Join(ErrClosed, t.closed)
    }
    if _, ok := t.slots[k]; ok {
        return nil, ErrInFlight
    }
    s := &slot[V]{ch: make(chan Result[V], 1)}
    t.slots[k] = s
    return s.ch, nil
}

// Complete delivers v to the waiter of k and frees the slot. It reports
// whether k was known; the value of an abandoned slot is dropped.
func (t *Table[K, V]) Complete(k K, v V) bool {
    t.mu.Lock()
    s, ok := t.slots[k]
    if ok { delete(t.slots, k) }
    t.mu.Unlock()
    if !ok { return false }
    if !s.abandoned { s.ch <- Result[V]{Value: v} }
    return true
}

// Remove frees k without delivering anything, e.g. when the request could
// not be sent at all.
func (t *Table[K, V]) Remove(k K) bool {
    t.mu.Lock()
    defer t.mu.Unlock()
    _, ok := t.slots[k]
    delete(t.slots, k)
    return ok
}

// Abandon detaches the waiter of k but keeps the slot reserved until the
// answer arrives, so no second request can be issued for k meanwhile.
func (t *Table[K, V]) Abandon(k K) bool {
    t.mu.Lock()
    defer t.mu.Unlock()
    s, ok := t.slots[k]
    if ok { s.abandoned = true }
    return ok
}

// Fail delivers err to every waiter, empties the table and makes later
// Register calls fail. Only the first error is kept. It returns the number
// of waiters that were failed.
func (t *Table[K, V]) Fail(err error) int {
    t.mu.Lock()
    if t.closed == nil { t.closed = err }
    slots := t.slots
    t.slots = make(map[K]*slot[V])
    t.mu.Unlock()

    n := 0
    for _, s := range slots {
        if s.abandoned { continue }
        s.ch <- Result[V]{Err: err}
        n++
    }
    return n
}

// Len returns the number of reserved slots, abandoned ones included.
func (t *Table[K, V]) Len() int {
    t.mu.Lock()
    defer t.mu.Unlock()
    return len(t.slots)
}

// has reports whether k is reserved.
func (t *Table[K, V]) has(k K) bool {
    t.mu.Lock()
    defer t.mu.Unlock()
    _, ok := t.slots[k]
    return ok
}
