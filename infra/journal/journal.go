// Package journal is a pebble-backed outbox of block lifecycle events.
// The reclaimer appends events as NEW; the broadcaster moves them
// through SENT to ACKED (or FAILED) and truncates what was delivered.
package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/fxamacker/cbor/v2"

	"warden/infra/logging"
	"warden/infra/sequence"
)

var (
	ErrNotFound      = errors.New("journal: record not found")
	ErrCorruptRecord = errors.New("journal: corrupt record")
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Kind is the lifecycle transition an event records.
type Kind uint8

const (
	KindTracked Kind = iota + 1
	KindReleased
	KindFreed
)

func (k Kind) String() string {
	switch k {
	case KindTracked:
		return "tracked"
	case KindReleased:
		return "released"
	case KindFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// Event is the payload published for every transition.
type Event struct {
	Kind  Kind   `cbor:"1,keyasint"`
	Addr  uint64 `cbor:"2,keyasint"`
	Size  int    `cbor:"3,keyasint,omitempty"`
	Epoch uint64 `cbor:"4,keyasint"`
	At    int64  `cbor:"5,keyasint"`
}

// Record is one outbox entry.
type Record struct {
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// Event decodes the payload.
func (r Record) Event() (Event, error) {
	var ev Event
	if err := cbor.Unmarshal(r.Payload, &ev); err != nil {
		return Event{}, errors.Wrap(ErrCorruptRecord, err.Error())
	}
	return ev, nil
}

const headerLen = 1 + 4 + 8

// [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.Wrapf(ErrCorruptRecord, "length %d", len(b))
	}
	return Record{
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     bytes.Clone(b[headerLen:]),
	}, nil
}

const keyPrefix = "event/"

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(string(bytes.TrimPrefix(b, []byte(keyPrefix))), 10, 64)
}

type options struct {
	fs     vfs.FS
	sync   bool
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*options)

// InMemory keeps the journal in memory; nothing touches dir.
func InMemory() Option {
	return func(o *options) { o.fs = vfs.NewMem() }
}

// NoSync skips fsync on every write.
func NoSync() Option {
	return func(o *options) { o.sync = false }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type Journal struct {
	db  *pebble.DB
	wo  *pebble.WriteOptions
	seq *sequence.Sequencer
	log *slog.Logger
	now func() time.Time
}

// Open opens or creates the journal at dir and resumes numbering after
// the highest stored sequence.
func Open(dir string, opts ...Option) (*Journal, error) {
	o := options{sync: true, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	popts := &pebble.Options{}
	if o.fs != nil {
		popts.FS = o.fs
	}
	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", dir)
	}
	wo := pebble.NoSync
	if o.sync {
		wo = pebble.Sync
	}
	j := &Journal{
		db:  db,
		wo:  wo,
		log: logging.Component(o.logger, "journal"),
		now: o.now,
	}
	last, err := j.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.seq = sequence.New(last)
	return j, nil
}

func (j *Journal) lastSeq() (uint64, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, errors.Wrap(err, "iterate journal")
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores ev as a NEW record and returns its sequence.
func (j *Journal) Append(ev Event) (uint64, error) {
	if ev.At == 0 {
		ev.At = j.now().UnixNano()
	}
	payload, err := cbor.Marshal(ev)
	if err != nil {
		return 0, errors.Wrap(err, "encode event")
	}
	seq := j.seq.Next()
	rec := Record{State: StateNew, Payload: payload}
	if err := j.db.Set(keyFor(seq), encodeRecord(rec), j.wo); err != nil {
		return 0, errors.Wrapf(err, "append event %d", seq)
	}
	return seq, nil
}

// Get returns the record stored under seq.
func (j *Journal) Get(seq uint64) (Record, error) {
	val, closer, err := j.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, errors.Wrapf(ErrNotFound, "seq %d", seq)
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(val)
}

func (j *Journal) MarkSent(seq uint64) error {
	return j.update(seq, func(r *Record) { r.State = StateSent })
}

func (j *Journal) MarkAcked(seq uint64) error {
	return j.update(seq, func(r *Record) { r.State = StateAcked })
}

// MarkFailed records a failed delivery attempt and bumps the retry count.
func (j *Journal) MarkFailed(seq uint64) error {
	return j.update(seq, func(r *Record) {
		r.State = StateFailed
		r.Retries++
	})
}

func (j *Journal) update(seq uint64, fn func(*Record)) error {
	rec, err := j.Get(seq)
	if err != nil {
		return err
	}
	fn(&rec)
	rec.LastAttempt = j.now().UnixNano()
	return errors.Wrapf(j.db.Set(keyFor(seq), encodeRecord(rec), j.wo), "update %d", seq)
}

// ScanByState calls fn for each record in state, in sequence order. A
// non-nil error from fn stops the scan and is returned.
func (j *Journal) ScanByState(state State, fn func(seq uint64, rec Record) error) error {
	return j.scan(func(seq uint64, rec Record) error {
		if rec.State != state {
			return nil
		}
		return fn(seq, rec)
	})
}

// ScanPending visits records awaiting delivery: NEW ones, FAILED ones
// with fewer than maxRetries attempts, and SENT ones last touched before
// sentBefore. The last covers a drain that died between marking and
// publishing; a zero sentBefore skips every SENT record.
func (j *Journal) ScanPending(maxRetries uint32, sentBefore time.Time, fn func(seq uint64, rec Record) error) error {
	return j.scan(func(seq uint64, rec Record) error {
		switch {
		case rec.State == StateNew:
		case rec.State == StateFailed && rec.Retries < maxRetries:
		case rec.State == StateSent && !sentBefore.IsZero() && rec.LastAttempt < sentBefore.UnixNano():
		default:
			return nil
		}
		return fn(seq, rec)
	})
}

func (j *Journal) scan(fn func(seq uint64, rec Record) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return errors.Wrap(err, "iterate journal")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		seq, err := parseKey(iter.Key())
		if err != nil {
			return errors.Wrapf(ErrCorruptRecord, "key %q", iter.Key())
		}
		if err := fn(seq, rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// TruncateAcked deletes every ACKED record and returns how many went.
func (j *Journal) TruncateAcked() (int, error) {
	batch := j.db.NewBatch()
	defer batch.Close()

	n := 0
	err := j.ScanByState(StateAcked, func(seq uint64, _ Record) error {
		n++
		return batch.Delete(keyFor(seq), nil)
	})
	if err != nil || n == 0 {
		return 0, err
	}
	if err := batch.Commit(j.wo); err != nil {
		return 0, errors.Wrap(err, "truncate")
	}
	return n, nil
}

// Counts returns the number of records in each state.
func (j *Journal) Counts() (map[State]int, error) {
	out := make(map[State]int)
	err := j.scan(func(_ uint64, rec Record) error {
		out[rec.State]++
		return nil
	})
	return out, err
}

// Tracked, Released and Freed make the journal a reclaim observer.
// Failures are logged; they never reach the reclaimer.

func (j *Journal) Tracked(addr uintptr, size int, epoch uint64) {
	j.record(Event{Kind: KindTracked, Addr: uint64(addr), Size: size, Epoch: epoch})
}

func (j *Journal) Released(addr uintptr, epoch uint64) {
	j.record(Event{Kind: KindReleased, Addr: uint64(addr), Epoch: epoch})
}

func (j *Journal) Freed(addr uintptr, size int, epoch uint64) {
	j.record(Event{Kind: KindFreed, Addr: uint64(addr), Size: size, Epoch: epoch})
}

func (j *Journal) record(ev Event) {
	if _, err := j.Append(ev); err != nil {
		j.log.Error("append failed", "kind", ev.Kind.String(), "addr", ev.Addr, "err", err)
	}
}
