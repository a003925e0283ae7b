// Package session ties one participant's replicas to the wire format:
// local mutations return the encoded delta to transmit, remote bytes
// are decoded and merged, and subscribers hear about every call that
// changed observable state.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/astromechza/scoresync/pkg/crdt"
	"github.com/astromechza/scoresync/pkg/wire"
)

// KeyTimeSignature is the metadata key holding the "<beats>/<unit>"
// time signature string, e.g. "4/4".
const KeyTimeSignature = "timeSignature"

// Session is the per-client document façade. All methods serialize on
// an internal mutex: local mutation is synchronous and remote
// application never interleaves with it.
type Session struct {
	mu       sync.Mutex
	clock    *crdt.Clock
	seq      *crdt.Sequence
	reg      *crdt.Register
	defaults map[string]string
	subs     []func()
}

// New creates an empty session. The defaults map supplies register
// values reported before any local or remote write has been observed;
// it is not replicated.
func New(defaults map[string]string) *Session {
	d := make(map[string]string, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &Session{
		clock:    crdt.NewClock(),
		seq:      crdt.NewSequence(),
		reg:      crdt.NewRegister(),
		defaults: d,
	}
}

// Subscribe registers a callback invoked once per mutating call that
// changed observable state. A remote message carrying many operations
// produces a single invocation. Callbacks run synchronously on the
// mutating goroutine and see fully-merged state.
func (s *Session) Subscribe(fn func()) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// InsertAfter creates a new event placed after origin (crdt.Root for
// the head of the document) and returns its identifier together with
// the encoded delta to broadcast.
func (s *Session) InsertAfter(origin crdt.ID, ev crdt.Event) (crdt.ID, []byte, error) {
	s.mu.Lock()
	id := s.clock.Next()
	op := crdt.Op{Kind: crdt.OpInsert, ID: id, Origin: origin, Event: ev}
	if err := s.seq.Insert(id, origin, ev); err != nil {
		s.mu.Unlock()
		return crdt.ID{}, nil, fmt.Errorf("insert failed: %w", err)
	}
	buf := wire.EncodeDelta([]crdt.Op{op})
	s.unlockAndNotify()
	return id, buf, nil
}

// Append inserts an event after the current tail of the document.
func (s *Session) Append(ev crdt.Event) (crdt.ID, []byte, error) {
	s.mu.Lock()
	tail := s.seq.TailID()
	s.mu.Unlock()
	return s.InsertAfter(tail, ev)
}

// Delete tombstones the event with the given identifier and returns
// the encoded delta to broadcast.
func (s *Session) Delete(id crdt.ID) []byte {
	s.mu.Lock()
	changed := s.seq.Delete(id)
	buf := wire.EncodeDelta([]crdt.Op{{Kind: crdt.OpDelete, ID: id}})
	if changed {
		s.unlockAndNotify()
	} else {
		s.mu.Unlock()
	}
	return buf
}

// SetMeta writes a metadata register entry and returns the encoded
// delta to broadcast.
func (s *Session) SetMeta(key, value string) []byte {
	s.mu.Lock()
	id := s.clock.Next()
	changed := s.reg.Set(id, key, value)
	buf := wire.EncodeDelta([]crdt.Op{{Kind: crdt.OpSet, ID: id, Key: key, Value: value}})
	if changed {
		s.unlockAndNotify()
	} else {
		s.mu.Unlock()
	}
	return buf
}

// ApplyRemote decodes an incoming frame and merges its operations.
// Malformed bytes return wire.ErrDecode before any state changes.
// Individual merge failures (an insert whose origin never arrived)
// are logged and absorbed: one bad peer message must not take down
// the session.
func (s *Session) ApplyRemote(buf []byte) error {
	_, err := s.Exchange(buf)
	return err
}

// Exchange is ApplyRemote plus a hint for the sync handshake: for a
// snapshot frame, ahead reports whether this session holds operations
// the frame did not carry, meaning the sender is behind and should be
// offered a snapshot in return. Routine delta frames never set ahead;
// an established session trivially exceeds a one-op delta, and
// answering those would turn every broadcast into a snapshot storm. A
// peer that merges a snapshot it was fully covered by reports false,
// which is what terminates the exchange.
func (s *Session) Exchange(buf []byte) (ahead bool, err error) {
	ops, snapshot, err := wire.Decode(buf)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	changed := false
	for _, op := range ops {
		s.clock.Witness(op.ID)
		switch op.Kind {
		case crdt.OpInsert:
			known := s.seq.Contains(op.ID)
			if err := s.seq.Insert(op.ID, op.Origin, op.Event); err != nil {
				slog.Error("dropping unmergeable op", "op", op.ID, "err", err)
				continue
			}
			if !known {
				changed = true
			}
		case crdt.OpDelete:
			if s.seq.Delete(op.ID) {
				changed = true
			}
		case crdt.OpSet:
			if s.reg.Set(op.ID, op.Key, op.Value) {
				changed = true
			}
		}
	}
	if snapshot {
		ahead = s.aheadOfLocked(ops)
	}
	if changed {
		s.unlockAndNotify()
	} else {
		s.mu.Unlock()
	}
	return ahead, nil
}

// aheadOfLocked reports whether local state contains anything the
// given batch did not: an element the batch never inserted, a
// tombstone it never deleted, or a register winner it never wrote.
func (s *Session) aheadOfLocked(ops []crdt.Op) bool {
	inserts := make(map[crdt.ID]struct{})
	deletes := make(map[crdt.ID]struct{})
	sets := make(map[string]crdt.ID)
	for _, op := range ops {
		switch op.Kind {
		case crdt.OpInsert:
			inserts[op.ID] = struct{}{}
		case crdt.OpDelete:
			deletes[op.ID] = struct{}{}
		case crdt.OpSet:
			if cur, ok := sets[op.Key]; !ok || cur.Compare(op.ID) < 0 {
				sets[op.Key] = op.ID
			}
		}
	}
	for _, el := range s.seq.Elements() {
		if _, ok := inserts[el.ID]; !ok {
			return true
		}
		if el.Tombstone {
			if _, ok := deletes[el.ID]; !ok {
				return true
			}
		}
	}
	for _, entry := range s.reg.Entries() {
		if sets[entry.Key] != entry.ID {
			return true
		}
	}
	return false
}

// Replica returns the token this session's clock stamps onto the
// identifiers it mints, useful for correlating log lines with the
// operations a participant produced.
func (s *Session) Replica() uuid.UUID {
	return s.clock.Replica()
}

// Snapshot encodes the full local state, suitable for bringing a
// reconnecting or fresh peer up to date.
func (s *Session) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.EncodeFull(s.seq, s.reg)
}

// Events returns the live events in document order.
func (s *Session) Events() []crdt.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.Events()
}

// EventIDs returns the identifiers of live events in document order.
func (s *Session) EventIDs() []crdt.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.LiveIDs()
}

// Meta returns the register value for key, falling back to the
// construction-time default when nothing has been written yet.
func (s *Session) Meta(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.reg.Get(key); ok {
		return v
	}
	return s.defaults[key]
}

// TimeSignature is shorthand for Meta(KeyTimeSignature).
func (s *Session) TimeSignature() string {
	return s.Meta(KeyTimeSignature)
}

// unlockAndNotify snapshots the subscriber list, releases the lock and
// invokes the callbacks, so a callback may call back into the session.
func (s *Session) unlockAndNotify() {
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
