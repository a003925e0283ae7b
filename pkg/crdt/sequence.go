package crdt

import (
	"errors"
	"fmt"
)

// ErrUnknownOrigin is returned when an insert names an origin that has
// not been applied locally. The caller must merge an operation's
// dependencies before creating or applying operations on top of them.
var ErrUnknownOrigin = errors.New("crdt: unknown origin")

// Element is one slot in the replicated sequence. Elements are never
// physically removed: delete sets Tombstone and the record stays behind
// so concurrent operations can still resolve against it.
type Element struct {
	ID        ID
	Origin    ID
	Event     Event
	Tombstone bool
}

// Sequence is a convergent ordered list of note/rest events. Elements
// live in an arena map indexed by identifier, with a separate slice
// holding the current document order; origin references are
// identifiers, not pointers.
//
// Concurrent inserts after the same origin are ordered by comparing
// their identifiers, higher sorting later. Because identifiers grow
// causally (see Clock.Witness), an element's subtree is a contiguous
// run to its right, which lets integration place a new element with a
// single rightward scan from its origin.
type Sequence struct {
	byID    map[ID]*Element
	order   []*Element
	index   map[ID]int      // position of each element in order
	pending map[ID]struct{} // deletes seen before their insert
}

func NewSequence() *Sequence {
	return &Sequence{
		byID:    make(map[ID]*Element),
		index:   make(map[ID]int),
		pending: make(map[ID]struct{}),
	}
}

// Insert integrates a new element with the given identifier after
// origin. It is idempotent: re-inserting a known identifier is a
// no-op. A delete that arrived ahead of this insert leaves the element
// tombstoned on arrival.
func (s *Sequence) Insert(id ID, origin ID, ev Event) error {
	if _, ok := s.byID[id]; ok {
		return nil
	}
	oi := -1
	if !origin.IsRoot() {
		if _, ok := s.byID[origin]; !ok {
			return fmt.Errorf("%w: insert %s after %s", ErrUnknownOrigin, id, origin)
		}
		oi = s.indexOf(origin)
	}

	// Scan right from the origin: skip smaller same-origin siblings and
	// their subtrees, stop at the first greater sibling or the first
	// element anchored left of the origin.
	i := oi + 1
	for i < len(s.order) {
		e := s.order[i]
		eoi := -1
		if !e.Origin.IsRoot() {
			eoi = s.indexOf(e.Origin)
		}
		if eoi < oi {
			break
		}
		if eoi == oi && e.ID.Compare(id) > 0 {
			break
		}
		i++
	}

	el := &Element{ID: id, Origin: origin, Event: ev}
	if _, ok := s.pending[id]; ok {
		el.Tombstone = true
		delete(s.pending, id)
	}
	s.byID[id] = el
	s.order = append(s.order, nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = el
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j].ID] = j
	}
	return nil
}

// Delete tombstones the element with the given identifier and reports
// whether a live element changed state. Deleting an already-tombstoned
// or unknown identifier is a no-op; an unknown identifier is
// remembered so a later-arriving insert lands already tombstoned.
func (s *Sequence) Delete(id ID) bool {
	if el, ok := s.byID[id]; ok {
		if el.Tombstone {
			return false
		}
		el.Tombstone = true
		return true
	}
	s.pending[id] = struct{}{}
	return false
}

// TailID returns the identifier of the last element in document order,
// or Root when the sequence is empty. Appending inserts after it.
func (s *Sequence) TailID() ID {
	if len(s.order) == 0 {
		return Root
	}
	return s.order[len(s.order)-1].ID
}

// Merge applies a remote insert or delete operation.
func (s *Sequence) Merge(op Op) error {
	switch op.Kind {
	case OpInsert:
		return s.Insert(op.ID, op.Origin, op.Event)
	case OpDelete:
		s.Delete(op.ID)
		return nil
	default:
		return fmt.Errorf("crdt: sequence cannot merge op kind %d", op.Kind)
	}
}

// Contains reports whether the identifier names a locally known
// element, tombstoned or not.
func (s *Sequence) Contains(id ID) bool {
	_, ok := s.byID[id]
	return ok
}

// Events returns the live events in document order.
func (s *Sequence) Events() []Event {
	out := make([]Event, 0, len(s.order))
	for _, el := range s.order {
		if !el.Tombstone {
			out = append(out, el.Event)
		}
	}
	return out
}

// LiveIDs returns the identifiers of live elements in document order.
func (s *Sequence) LiveIDs() []ID {
	out := make([]ID, 0, len(s.order))
	for _, el := range s.order {
		if !el.Tombstone {
			out = append(out, el.ID)
		}
	}
	return out
}

// Elements returns every element, tombstones included, in document
// order. The codec walks this to build full snapshots.
func (s *Sequence) Elements() []Element {
	out := make([]Element, len(s.order))
	for i, el := range s.order {
		out[i] = *el
	}
	return out
}

// Len counts live elements.
func (s *Sequence) Len() int {
	n := 0
	for _, el := range s.order {
		if !el.Tombstone {
			n++
		}
	}
	return n
}

// indexOf is a map lookup so integration's rightward scan stays linear
// in the distance travelled rather than quadratic in document length.
func (s *Sequence) indexOf(id ID) int {
	if i, ok := s.index[id]; ok {
		return i
	}
	return -1
}
