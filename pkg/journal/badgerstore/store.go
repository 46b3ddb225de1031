// Package badgerstore is a durable journal.Store on BadgerDB.
package badgerstore

import (
    "errors"
    "fmt"
    "os"
    "time"

    badgerdb "github.com/dgraph-io/badger/v3"
    "go.uber.org/zap"

    "intentlog/pkg/journal"
)

type Options struct {
    // Path is the data directory. Empty opens an in-memory database.
    Path       string
    SyncWrites bool
    Logger     *zap.Logger
}

type Store struct {
    db *badgerdb.DB
}

var _ journal.Store = (*Store)(nil)

func Open(opts Options) (*Store, error) {
    log := opts.Logger
    if log == nil { log = zap.L() }
    var bo badgerdb.Options
    if opts.Path == "" {
        bo = badgerdb.DefaultOptions("").WithInMemory(true)
    } else {
        if err := os.MkdirAll(opts.Path, 0o700); err != nil { return nil, fmt.Errorf("badgerstore: %w", err) }
        bo = badgerdb.DefaultOptions(opts.Path).WithSyncWrites(opts.SyncWrites)
    }
    // journal records are small; keep the caches modest
    bo.BlockCacheSize = 32 << 20
    bo.IndexCacheSize = 16 << 20
    bo.NumMemtables = 2
    bo.Logger = badgerLogger{log.Named("badger").Sugar()}
    db, err := badgerdb.Open(bo)
    if err != nil { return nil, fmt.Errorf("badgerstore: open %q: %w", opts.Path, err) }
    return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
    var val []byte
    err := s.db.View(func(txn *badgerdb.Txn) error {
        item, err := txn.Get(key)
        if err != nil { return err }
        val, err = item.ValueCopy(nil)
        return err
    })
    if errors.Is(err, badgerdb.ErrKeyNotFound) { return nil, journal.ErrNotFound }
    return val, err
}

func (s *Store) Set(key, val []byte, ttl time.Duration) error {
    e := badgerdb.NewEntry(key, val)
    if ttl > 0 { e = e.WithTTL(ttl) }
    return s.db.Update(func(txn *badgerdb.Txn) error { return txn.SetEntry(e) })
}

func (s *Store) Scan(prefix []byte, fn func(key, val []byte) error) error {
    return s.db.View(func(txn *badgerdb.Txn) error {
        opts := badgerdb.DefaultIteratorOptions
        opts.Prefix = prefix
        it := txn.NewIterator(opts)
        defer it.Close()
        for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
            item := it.Item()
            val, err := item.ValueCopy(nil)
            if err != nil { return err }
            if err := fn(item.KeyCopy(nil), val); err != nil { return err }
        }
        return nil
    })
}

func (s *Store) Close() error { return s.db.Close() }

// badgerLogger routes badger's own logging into zap, one level down so
// badger's chatty info lines stay at debug.
type badgerLogger struct{ s *zap.SugaredLogger }

func (l badgerLogger) Errorf(f string, a ...interface{})   { l.s.Errorf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...interface{}) { l.s.Warnf(f, a...) }
func (l badgerLogger) Infof(f string, a ...interface{})    { l.s.Debugf(f, a...) }
func (l badgerLogger) Debugf(f string, a ...interface{})   { l.s.Debugf(f, a...) }
