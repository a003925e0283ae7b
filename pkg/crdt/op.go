package crdt

// OpKind discriminates the three operation variants that travel
// between replicas.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpDelete
	OpSet
)

// Op is one replicated operation. Insert carries Origin and Event,
// Delete only ID, Set carries Key and Value. The same type is produced
// by local mutation and consumed by merge, so a decoded batch can be
// replayed directly.
type Op struct {
	Kind   OpKind
	ID     ID
	Origin ID     // insert: element this one is placed after
	Event  Event  // insert payload
	Key    string // set payload
	Value  string
}
