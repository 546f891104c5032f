package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicNeverZero(t *testing.T) {
	c := Monotonic()
	a := c.Now()
	b := c.Now()
	assert.NotZero(t, a)
	assert.GreaterOrEqual(t, b, a)
}

func TestManualAdvance(t *testing.T) {
	m := NewManual(10)
	assert.Equal(t, Tick(10), m.Now())
	assert.Equal(t, Tick(260), m.Advance(250*time.Millisecond))
	m.Set(5)
	assert.Equal(t, Tick(5), m.Now())
	assert.Equal(t, Tick(1005), After(m, time.Second))
}
