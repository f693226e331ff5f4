package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/buger/goterm"
)

// Meter renders a single-line progress bar for one phase of a run. It's safe
// for concurrent use: the pulls from two endpoints share one meter, each
// growing the total by its own pre-pass count.
//
// A nil Meter is a valid no-op, so transfer code never guards its updates.
type Meter struct {
	mutex sync.Mutex
	label string
	total int
	count int
	out   io.Writer
}

// NewMeter creates a meter with a zero total; Grow sets the goal.
func NewMeter(label string) *Meter {
	return &Meter{label: label, out: os.Stdout}
}

// Grow adds `n` to the meter's total.
func (meter *Meter) Grow(n int) {
	if meter == nil {
		return
	}

	meter.mutex.Lock()
	defer meter.mutex.Unlock()
	meter.total += n
	meter.draw()
}

// Increment records one completed item.
func (meter *Meter) Increment() {
	if meter == nil {
		return
	}

	meter.mutex.Lock()
	defer meter.mutex.Unlock()
	meter.count++
	meter.draw()
}

// Done finishes the meter's line. The meter must not be updated afterwards.
func (meter *Meter) Done() {
	if meter == nil {
		return
	}

	meter.mutex.Lock()
	defer meter.mutex.Unlock()
	meter.draw()
	fmt.Fprintln(meter.out)
}

func (meter *Meter) draw() {
	width := goterm.Width()
	if width <= 0 {
		width = 80
	}

	// Leave room for the label and the "count/total" suffix.
	barWidth := width - len(meter.label) - 16
	if barWidth < 10 {
		barWidth = 10
	}

	filled := 0
	if meter.total > 0 {
		filled = barWidth * meter.count / meter.total
		if filled > barWidth {
			filled = barWidth
		}
	}

	fmt.Fprintf(meter.out, "\r%s [%s%s] %d/%d", meter.label,
		strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled),
		meter.count, meter.total)
}
