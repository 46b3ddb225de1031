// Package journal is a server.Handler that keeps one record per intent in a
// key-value Store: its state and every step it went through.
package journal

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "hash/fnv"
    "sync"
    "time"

    "go.uber.org/zap"

    "intentlog/pkg/payload"
    "intentlog/pkg/payload/codec"
    "intentlog/pkg/protocol"
    "intentlog/pkg/server"
)

// ErrNotFound is returned by stores for missing or expired keys.
var ErrNotFound = errors.New("journal: not found")

// Store is the persistence the journal writes to. Implementations must be
// safe for concurrent use.
type Store interface {
    Get(key []byte) ([]byte, error)
    // Set stores val under key; a positive ttl lets the store drop it later.
    Set(key, val []byte, ttl time.Duration) error
    // Scan calls fn for every live key with the prefix, in key order.
    Scan(prefix []byte, fn func(key, val []byte) error) error
    Close() error
}

type State string

const (
    StateOpen     State = "open"
    StateClosed   State = "closed"
    StateAborted  State = "aborted"
    StateTimedOut State = "timed_out"
    StateReset    State = "reset"
)

// Final reports whether no further step is accepted.
func (s State) Final() bool { return s != StateOpen }

// Step is one accepted request.
type Step struct {
    Kind    string    `cbor:"1,keyasint"`
    At      time.Time `cbor:"2,keyasint"`
    Payload []byte    `cbor:"3,keyasint,omitempty"`
}

type Record struct {
    ID        protocol.IntentID `cbor:"1,keyasint"`
    State     State             `cbor:"2,keyasint"`
    OpenedAt  time.Time         `cbor:"3,keyasint"`
    UpdatedAt time.Time         `cbor:"4,keyasint"`
    Steps     []Step            `cbor:"5,keyasint"`
}

// Diagnostic is the payload of every request the journal rejects, encoded
// as a CBOR payload body.
type Diagnostic struct {
    Code    string `cbor:"code"`
    Message string `cbor:"message"`
}

// Diagnostic codes.
const (
    CodeNotFound  = "not_found"
    CodeFinalized = "finalized"
    CodeTooLarge  = "too_large"
    CodeExists    = "exists"
)

// DecodeDiagnostic parses the payload of a rejected request.
func DecodeDiagnostic(b []byte) (Diagnostic, error) {
    var d Diagnostic
    _, err := payload.Decode(b, &d)
    return d, err
}

type Options struct {
    // Logger defaults to zap.L().
    Logger *zap.Logger
    // MaxStepBytes rejects larger step payloads; zero accepts any size.
    MaxStepBytes int
    // Retention is how long finalized records are kept; zero keeps them.
    Retention time.Duration
}

const keyPrefix = "intent/"

// Journal implements server.Handler.
type Journal struct {
    store Store
    opts  Options
    log   *zap.Logger
    enc   codec.Codec
    now   func() time.Time
    locks [32]sync.Mutex
}

var _ server.Handler = (*Journal)(nil)

func New(store Store, opts Options) *Journal {
    log := opts.Logger
    if log == nil { log = zap.L() }
    return &Journal{store: store, opts: opts, log: log.Named("journal"), enc: codec.MustCBOR(), now: time.Now}
}

func (j *Journal) Open(_ context.Context, in *server.Intent, p []byte) error {
    if err := j.checkSize(p); err != nil { return err }
    unlock := j.lock(in.ID)
    defer unlock()
    if _, err := j.get(in.ID); err == nil {
        return reject(CodeExists, "intent %s already recorded", in.ID)
    } else if !errors.Is(err, ErrNotFound) {
        return err
    }
    now := j.now()
    rec := &Record{ID: in.ID, State: StateOpen, OpenedAt: now, UpdatedAt: now,
        Steps: []Step{{Kind: "open", At: now, Payload: p}}}
    if err := j.put(rec); err != nil { return err }
    j.log.Debug("intent opened", zap.Stringer("intent", in.ID))
    return nil
}

func (j *Journal) Amend(_ context.Context, in *server.Intent, p []byte) error {
    return j.step(in.ID, "amend", StateOpen, p)
}

func (j *Journal) Close(_ context.Context, in *server.Intent, p []byte) error {
    return j.step(in.ID, "close", StateClosed, p)
}

func (j *Journal) Abort(_ context.Context, in *server.Intent, p []byte) error {
    return j.step(in.ID, "abort", StateAborted, p)
}

func (j *Journal) Timeout(_ context.Context, in *server.Intent, p []byte) error {
    return j.step(in.ID, "timeout", StateTimedOut, p)
}

// Reset finalizes the intent. An intent whose Open was rejected has no
// record yet; one is created so the reset is still visible.
func (j *Journal) Reset(_ context.Context, in *server.Intent, p []byte) error {
    unlock := j.lock(in.ID)
    defer unlock()
    rec, err := j.get(in.ID)
    switch {
    case errors.Is(err, ErrNotFound):
        now := j.now()
        rec = &Record{ID: in.ID, OpenedAt: now}
    case err != nil:
        return err
    case rec.State.Final():
        return reject(CodeFinalized, "intent %s already %s", in.ID, rec.State)
    }
    return j.advance(rec, "reset", StateReset, p)
}

func (j *Journal) step(id protocol.IntentID, kind string, to State, p []byte) error {
    if err := j.checkSize(p); err != nil { return err }
    unlock := j.lock(id)
    defer unlock()
    rec, err := j.get(id)
    if errors.Is(err, ErrNotFound) { return reject(CodeNotFound, "intent %s has no record", id) }
    if err != nil { return err }
    if rec.State.Final() { return reject(CodeFinalized, "intent %s already %s", id, rec.State) }
    return j.advance(rec, kind, to, p)
}

func (j *Journal) advance(rec *Record, kind string, to State, p []byte) error {
    now := j.now()
    rec.Steps = append(rec.Steps, Step{Kind: kind, At: now, Payload: p})
    rec.State, rec.UpdatedAt = to, now
    if err := j.put(rec); err != nil { return err }
    if to.Final() { j.log.Debug("intent finalized", zap.Stringer("intent", rec.ID), zap.String("state", string(to))) }
    return nil
}

// Get returns the record of id, or ErrNotFound.
func (j *Journal) Get(id protocol.IntentID) (*Record, error) { return j.get(id) }

// List returns the records in the given state, or all of them when state is
// empty, ordered by intent id.
func (j *Journal) List(state State) ([]*Record, error) {
    var out []*Record
    err := j.store.Scan([]byte(keyPrefix), func(_, val []byte) error {
        rec := new(Record)
        if err := j.enc.Unmarshal(val, rec); err != nil { return fmt.Errorf("journal: decode record: %w", err) }
        if state == "" || rec.State == state { out = append(out, rec) }
        return nil
    })
    return out, err
}

func (j *Journal) get(id protocol.IntentID) (*Record, error) {
    val, err := j.store.Get(key(id))
    if err != nil { return nil, err }
    rec := new(Record)
    if err := j.enc.Unmarshal(val, rec); err != nil { return nil, fmt.Errorf("journal: decode %s: %w", id, err) }
    return rec, nil
}

func (j *Journal) put(rec *Record) error {
    val, err := j.enc.Marshal(rec)
    if err != nil { return fmt.Errorf("journal: encode %s: %w", rec.ID, err) }
    var ttl time.Duration
    if rec.State.Final() { ttl = j.opts.Retention }
    if err := j.store.Set(key(rec.ID), val, ttl); err != nil { return fmt.Errorf("journal: store %s: %w", rec.ID, err) }
    return nil
}

func (j *Journal) checkSize(p []byte) error {
    if j.opts.MaxStepBytes > 0 && len(p) > j.opts.MaxStepBytes {
        return reject(CodeTooLarge, "step of %d bytes exceeds %d", len(p), j.opts.MaxStepBytes)
    }
    return nil
}

func (j *Journal) lock(id protocol.IntentID) func() {
    h := fnv.New32a()
    _, _ = h.Write(id[:])
    mu := &j.locks[h.Sum32()%uint32(len(j.locks))]
    mu.Lock()
    return mu.Unlock
}

func key(id protocol.IntentID) []byte {
    var b bytes.Buffer
    b.WriteString(keyPrefix)
    b.WriteString(id.String())
    return b.Bytes()
}

func reject(code, format string, args ...any) error {
    msg := fmt.Sprintf(format, args...)
    body, err := payload.Encode(codec.FormatCBOR, Diagnostic{Code: code, Message: msg})
    if err != nil { return server.Errorf("%s", msg) }
    return server.NewError(msg, body)
}
