package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeter(t *testing.T) {
	var out bytes.Buffer
	meter := NewMeter("Pulling")
	meter.out = &out

	meter.Grow(2)
	meter.Increment()
	meter.Increment()
	meter.Done()

	assert.Contains(t, out.String(), "2/2")
	assert.Contains(t, out.String(), "Pulling")
}

func TestNilMeterIsNoOp(t *testing.T) {
	var meter *Meter
	meter.Grow(10)
	meter.Increment()
	meter.Done()
}
