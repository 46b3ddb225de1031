// Package memstore is an in-memory journal.Store: a sharded map with lazy
// expiry and a byte budget.
package memstore

import (
    "errors"
    "sort"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "intentlog/pkg/journal"
)

// ErrFull is returned by Set when MaxBytes would be exceeded.
var ErrFull = errors.New("memstore: byte budget exceeded")

type Options struct {
    Shards   int    // number of shards (default 64)
    MaxBytes uint64 // cap on the sum of value sizes (0 = unbounded)
}

type Store struct {
    opts   Options
    shards []shard
    nowFn  func() time.Time

    mKeys    atomic.Int64
    mBytes   atomic.Uint64
    mSets    atomic.Uint64
    mGets    atomic.Uint64
    mMisses  atomic.Uint64
    mExpired atomic.Uint64
}

type shard struct {
    mu sync.RWMutex
    m  map[string]*entry
}

type entry struct {
    val      []byte
    expireAt int64 // unix nano; 0 = never
}

var _ journal.Store = (*Store)(nil)

func New(opts Options) *Store {
    if opts.Shards <= 0 { opts.Shards = 64 }
    s := &Store{opts: opts, shards: make([]shard, opts.Shards), nowFn: time.Now}
    for i := range s.shards {
        s.shards[i].m = make(map[string]*entry)
    }
    return s
}

func (s *Store) Close() error { return nil }

// shardFor hashes key with FNV-1a 64.
func (s *Store) shardFor(key string) *shard {
    var h uint64 = 1469598103934665603
    for i := 0; i < len(key); i++ {
        h ^= uint64(key[i])
        h *= 1099511628211
    }
    return &s.shards[int(h%uint64(len(s.shards)))]
}

func (s *Store) Get(key []byte) ([]byte, error) {
    s.mGets.Add(1)
    k := string(key)
    sh := s.shardFor(k)
    sh.mu.RLock()
    e, ok := sh.m[k]
    sh.mu.RUnlock()
    if ok && s.expired(e) {
        s.drop(sh, k)
        ok = false
    }
    if !ok {
        s.mMisses.Add(1)
        return nil, journal.ErrNotFound
    }
    return append([]byte(nil), e.val...), nil
}

func (s *Store) Set(key, val []byte, ttl time.Duration) error {
    var expAt int64
    if ttl > 0 { expAt = s.nowFn().Add(ttl).UnixNano() }
    v := append([]byte(nil), val...)
    k := string(key)

    sh := s.shardFor(k)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    prev, existed := sh.m[k]
    delta := int64(len(v))
    if existed { delta -= int64(len(prev.val)) }
    if delta > 0 && !s.tryAddBytes(uint64(delta)) { return ErrFull }
    if delta < 0 { s.mBytes.Add(^uint64(-delta - 1)) }
    sh.m[k] = &entry{val: v, expireAt: expAt}
    if !existed { s.mKeys.Add(1) }
    s.mSets.Add(1)
    return nil
}

// Scan collects matching keys under each shard lock, then visits them in
// order without holding any lock.
func (s *Store) Scan(prefix []byte, fn func(key, val []byte) error) error {
    p := string(prefix)
    type kv struct {
        k string
        v []byte
    }
    var items []kv
    for i := range s.shards {
        sh := &s.shards[i]
        sh.mu.RLock()
        for k, e := range sh.m {
            if strings.HasPrefix(k, p) && !s.expired(e) { items = append(items, kv{k, e.val}) }
        }
        sh.mu.RUnlock()
    }
    sort.Slice(items, func(a, b int) bool { return items[a].k < items[b].k })
    for _, it := range items {
        if err := fn([]byte(it.k), append([]byte(nil), it.v...)); err != nil { return err }
    }
    return nil
}

func (s *Store) expired(e *entry) bool {
    return e.expireAt != 0 && e.expireAt <= s.nowFn().UnixNano()
}

func (s *Store) drop(sh *shard, k string) {
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[k]
    if !ok || !s.expired(e) { return }
    delete(sh.m, k)
    s.mKeys.Add(-1)
    s.mBytes.Add(^uint64(len(e.val) - 1))
    s.mExpired.Add(1)
}

// tryAddBytes reserves delta bytes unless that would exceed MaxBytes.
func (s *Store) tryAddBytes(delta uint64) bool {
    if s.opts.MaxBytes == 0 {
        s.mBytes.Add(delta)
        return true
    }
    for {
        cur := s.mBytes.Load()
        next := cur + delta
        if next > s.opts.MaxBytes { return false }
        if s.mBytes.CompareAndSwap(cur, next) { return true }
    }
}

// Stats is a snapshot of the store counters.
type Stats struct {
    Keys    int64
    Bytes   uint64
    Sets    uint64
    Gets    uint64
    Misses  uint64
    Expired uint64
}

func (s *Store) Stats() Stats {
    return Stats{
        Keys:    s.mKeys.Load(),
        Bytes:   s.mBytes.Load(),
        Sets:    s.mSets.Load(),
        Gets:    s.mGets.Load(),
        Misses:  s.mMisses.Load(),
        Expired: s.mExpired.Load(),
    }
}
