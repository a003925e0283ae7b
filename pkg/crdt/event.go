package crdt

import "fmt"

// Duration is the rhythmic length of an event.
type Duration uint8

const (
	Whole Duration = iota
	Half
	Quarter
	Eighth
)

var durationCodes = map[Duration]string{
	Whole:   "w",
	Half:    "h",
	Quarter: "q",
	Eighth:  "8",
}

var durationRatios = map[Duration]float64{
	Whole:   1,
	Half:    0.5,
	Quarter: 0.25,
	Eighth:  0.125,
}

func (d Duration) Code() string {
	return durationCodes[d]
}

// Ratio is the fraction of a whole note this duration covers.
func (d Duration) Ratio() float64 {
	return durationRatios[d]
}

// ParseDuration accepts the wire codes "w", "h", "q" and "8", with an
// optional "r" suffix marking a rest.
func ParseDuration(s string) (Duration, bool, error) {
	rest := false
	if len(s) > 1 && s[len(s)-1] == 'r' {
		rest = true
		s = s[:len(s)-1]
	}
	for d, code := range durationCodes {
		if code == s {
			return d, rest, nil
		}
	}
	return 0, false, fmt.Errorf("unknown duration %q", s)
}

// Event is a single note or rest. Keys are pitch strings of the form
// "<pitch><accidental?>/<octave>", e.g. "c#/4"; a chord carries several.
// Events are immutable once inserted.
type Event struct {
	Keys     []string
	Duration Duration
	Rest     bool
}

// DurationCode renders the duration in wire form, e.g. "q" or "qr".
func (e Event) DurationCode() string {
	if e.Rest {
		return e.Duration.Code() + "r"
	}
	return e.Duration.Code()
}

// Beats converts the event's duration into beats for a time signature
// whose beat unit is beatUnit (4 means a quarter note gets the beat).
func (e Event) Beats(beatUnit int) float64 {
	return e.Duration.Ratio() * float64(beatUnit)
}
