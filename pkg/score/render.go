package score

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/fogleman/gg"

	"github.com/astromechza/scoresync/pkg/crdt"
)

const (
	slotWidth  = 250
	slotHeight = 140
	staffTop   = 40.0
	lineGap    = 10.0
)

// ImageRenderer draws measures onto per-slot raster images with
// fogleman/gg. It is deliberately crude notation (noteheads, stems and
// rest blocks, a clef mark on the first measure) since glyph-accurate
// engraving is delegated territory; what matters here is that each
// slot is an independent drawing surface the reconciler can redraw
// selectively.
type ImageRenderer struct {
	slots []image.Image
}

func NewImageRenderer() *ImageRenderer {
	return &ImageRenderer{}
}

func (r *ImageRenderer) EnsureSlots(n int) {
	if n < len(r.slots) {
		r.slots = r.slots[:n]
		return
	}
	for len(r.slots) < n {
		r.slots = append(r.slots, nil)
	}
}

func (r *ImageRenderer) DrawMeasure(slot int, m Measure, ts TimeSignature) error {
	if slot < 0 || slot >= len(r.slots) {
		return fmt.Errorf("slot %d out of range", slot)
	}
	dc := gg.NewContext(slotWidth, slotHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)

	for i := 0; i < 5; i++ {
		y := staffTop + float64(i)*lineGap
		dc.DrawLine(0, y, slotWidth, y)
	}
	dc.DrawLine(slotWidth-1, staffTop, slotWidth-1, staffTop+4*lineGap)
	dc.SetLineWidth(1)
	dc.Stroke()

	x := 20.0
	if slot == 0 {
		// First measure carries the clef mark and time signature.
		dc.DrawEllipse(x, staffTop+2*lineGap, 6, 14)
		dc.Stroke()
		x += 18
		drawBeamCount(dc, x, staffTop+lineGap, ts.Beats)
		drawBeamCount(dc, x, staffTop+3*lineGap, ts.Unit)
		x += 18
	}

	step := (slotWidth - x - 10) / float64(len(m.Events)+1)
	for _, ev := range m.Events {
		x += step
		if ev.Rest {
			dc.DrawRectangle(x-4, staffTop+lineGap, 8, lineGap/2)
			dc.Fill()
			continue
		}
		for _, key := range ev.Keys {
			y, ok := keyToY(key)
			if !ok {
				continue
			}
			dc.DrawEllipse(x, y, 5, 3.5)
			if ev.Duration == crdt.Whole || ev.Duration == crdt.Half {
				dc.Stroke()
			} else {
				dc.Fill()
			}
			if ev.Duration != crdt.Whole {
				dc.DrawLine(x+5, y, x+5, y-3*lineGap)
				dc.Stroke()
			}
		}
	}

	r.slots[slot] = dc.Image()
	return nil
}

// SavePNG stitches the current slots left to right into a single PNG.
func (r *ImageRenderer) SavePNG(path string) error {
	n := len(r.slots)
	if n == 0 {
		n = 1
	}
	dc := gg.NewContext(slotWidth*n, slotHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	for i, img := range r.slots {
		if img != nil {
			dc.DrawImage(img, i*slotWidth, 0)
		}
	}
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("failed to save png: %w", err)
	}
	return nil
}

var stepIndex = map[byte]int{'c': 0, 'd': 1, 'e': 2, 'f': 3, 'g': 4, 'a': 5, 'b': 6}

// keyToY maps a pitch string like "c#/4" to a vertical staff
// coordinate. E4 sits on the bottom line of the treble staff.
func keyToY(key string) (float64, bool) {
	pitch, octStr, ok := strings.Cut(key, "/")
	if !ok || pitch == "" {
		return 0, false
	}
	step, ok := stepIndex[pitch[0]|0x20]
	if !ok {
		return 0, false
	}
	oct, err := strconv.Atoi(octStr)
	if err != nil {
		return 0, false
	}
	// Diatonic distance from E4, in half line gaps.
	diatonic := (oct-4)*7 + step - 2
	bottom := staffTop + 4*lineGap
	return bottom - float64(diatonic)*lineGap/2, true
}

func drawBeamCount(dc *gg.Context, x, y float64, n int) {
	for i := 0; i < n && i < 12; i++ {
		dc.DrawPoint(x+float64(i%4)*4, y+float64(i/4)*4, 1.5)
		dc.Fill()
	}
}
