package score

import (
	"fmt"

	"github.com/astromechza/scoresync/pkg/crdt"
)

// Renderer is the narrow interface to the external drawing layer. The
// reconciler only ever asks it to size its slot list and to redraw a
// single measure slot; glyph layout is entirely its business.
type Renderer interface {
	// EnsureSlots creates missing rendering slots and discards surplus
	// ones so that exactly n remain.
	EnsureSlots(n int)
	// DrawMeasure redraws one slot from scratch.
	DrawMeasure(slot int, m Measure, ts TimeSignature) error
}

// Reconciler diffs each pass's measures against the previous pass by
// content fingerprint and redraws only the slots that changed, which
// bounds redraw cost by the number of changed measures rather than
// document size.
type Reconciler struct {
	renderer Renderer
	prev     []uint64
}

func NewReconciler(r Renderer) *Reconciler {
	return &Reconciler{renderer: r}
}

// Reconcile recomputes the measures for the given events and time
// signature and redraws changed slots. It returns the indexes of the
// slots that were redrawn.
func (rc *Reconciler) Reconcile(events []crdt.Event, ts TimeSignature) ([]int, error) {
	measures := Partition(events, ts)
	next := make([]uint64, len(measures))
	for i, m := range measures {
		next[i] = m.Fingerprint(ts)
	}
	rc.renderer.EnsureSlots(len(measures))

	var redrawn []int
	for i, m := range measures {
		if i < len(rc.prev) && rc.prev[i] == next[i] {
			continue
		}
		if err := rc.renderer.DrawMeasure(i, m, ts); err != nil {
			return redrawn, fmt.Errorf("failed to draw measure %d: %w", i, err)
		}
		redrawn = append(redrawn, i)
	}
	rc.prev = next
	return redrawn, nil
}
