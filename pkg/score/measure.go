// Package score derives renderable measures from the replicated note
// sequence and redraws only the measures whose content changed.
package score

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/astromechza/scoresync/pkg/crdt"
)

// epsilon absorbs float accumulation error when deciding whether the
// next event still fits in the current measure.
const epsilon = 0.001

// TimeSignature is the "<beatsPerMeasure>/<beatUnit>" pair, e.g. 4/4
// or 6/8.
type TimeSignature struct {
	Beats int
	Unit  int
}

func (ts TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", ts.Beats, ts.Unit)
}

// ParseTimeSignature parses strings like "4/4" and "6/8".
func ParseTimeSignature(s string) (TimeSignature, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return TimeSignature{}, fmt.Errorf("invalid time signature %q", s)
	}
	beats, err := strconv.Atoi(num)
	if err != nil || beats <= 0 {
		return TimeSignature{}, fmt.Errorf("invalid time signature %q", s)
	}
	unit, err := strconv.Atoi(den)
	if err != nil || unit <= 0 {
		return TimeSignature{}, fmt.Errorf("invalid time signature %q", s)
	}
	return TimeSignature{Beats: beats, Unit: unit}, nil
}

// Measure is a derived grouping of consecutive live events. It is
// recomputed from the sequence on every pass, never stored.
type Measure struct {
	Events []crdt.Event
}

// Fingerprint hashes the measure's content together with the time
// signature, so a signature change redraws everything.
func (m Measure) Fingerprint(ts TimeSignature) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(ts.String())
	for _, ev := range m.Events {
		_, _ = h.WriteString("|")
		_, _ = h.WriteString(ev.DurationCode())
		for _, k := range ev.Keys {
			_, _ = h.WriteString(",")
			_, _ = h.WriteString(k)
		}
	}
	return h.Sum64()
}

// Partition walks the events in document order, accumulating beats and
// closing a measure whenever the next event would overflow it. An
// empty document yields exactly one empty measure.
func Partition(events []crdt.Event, ts TimeSignature) []Measure {
	var measures []Measure
	var current Measure
	beats := 0.0
	for _, ev := range events {
		b := ev.Beats(ts.Unit)
		if beats+b > float64(ts.Beats)+epsilon {
			measures = append(measures, current)
			current = Measure{}
			beats = 0
		}
		current.Events = append(current.Events, ev)
		beats += b
	}
	if len(current.Events) > 0 || len(measures) == 0 {
		measures = append(measures, current)
	}
	return measures
}
