package crdt

import "fmt"

type registerEntry struct {
	value string
	id    ID
}

// Register is a last-writer-wins map for scalar metadata such as the
// time signature. Each entry keeps the identifier that last wrote it;
// a write only lands if its identifier sorts after the current one, so
// every replica keeps the same winner regardless of arrival order.
type Register struct {
	entries map[string]registerEntry
}

func NewRegister() *Register {
	return &Register{entries: make(map[string]registerEntry)}
}

// Set applies a write tagged with the given identifier. It returns
// true if the write won and changed the visible value.
func (r *Register) Set(id ID, key, value string) bool {
	cur, ok := r.entries[key]
	if ok && cur.id.Compare(id) >= 0 {
		return false
	}
	r.entries[key] = registerEntry{value: value, id: id}
	return true
}

// Get returns the current value for key, with ok false if no write has
// been observed.
func (r *Register) Get(key string) (string, bool) {
	e, ok := r.entries[key]
	return e.value, ok
}

// Merge applies a remote register write.
func (r *Register) Merge(op Op) error {
	if op.Kind != OpSet {
		return fmt.Errorf("crdt: register cannot merge op kind %d", op.Kind)
	}
	r.Set(op.ID, op.Key, op.Value)
	return nil
}

// Entries returns the current winning writes as ops, for snapshot
// encoding.
func (r *Register) Entries() []Op {
	out := make([]Op, 0, len(r.entries))
	for k, e := range r.entries {
		out = append(out, Op{Kind: OpSet, ID: e.id, Key: k, Value: e.value})
	}
	return out
}
