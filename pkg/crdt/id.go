package crdt

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ID identifies a single operation: a per-replica monotonic counter
// paired with the opaque replica token that produced it. The zero value
// is Root, the anchor that precedes every element.
type ID struct {
	Seq     uint64
	Replica uuid.UUID
}

// Root is the identifier of the virtual element at the head of every
// sequence. No real operation ever carries it: counters start at 1.
var Root = ID{}

// Compare orders identifiers by counter first and replica token as the
// tiebreak, so that every node sorts concurrent operations identically.
func (id ID) Compare(other ID) int {
	if id.Seq < other.Seq {
		return -1
	}
	if id.Seq > other.Seq {
		return +1
	}
	return bytes.Compare(id.Replica[:], other.Replica[:])
}

func (id ID) IsRoot() bool {
	return id == Root
}

func (id ID) String() string {
	if id.IsRoot() {
		return "root"
	}
	return fmt.Sprintf("%s@%d", id.Replica.String()[:8], id.Seq)
}

// Clock hands out identifiers for one replica. Next never returns the
// same counter twice, and Witness advances the counter past any remote
// identifier so that an element's identifier always exceeds the
// identifier of the origin it was inserted after.
type Clock struct {
	mu      sync.Mutex
	replica uuid.UUID
	seq     uint64
}

func NewClock() *Clock {
	return &Clock{replica: uuid.New()}
}

// Replica returns the opaque token this clock stamps onto identifiers.
func (c *Clock) Replica() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replica
}

// Next returns an identifier strictly greater than every identifier
// previously returned or witnessed by this clock.
func (c *Clock) Next() ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return ID{Seq: c.seq, Replica: c.replica}
}

// Witness records a remote identifier, ensuring later Next calls sort
// after it.
func (c *Clock) Witness(id ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id.Seq > c.seq {
		c.seq = id.Seq
	}
}
