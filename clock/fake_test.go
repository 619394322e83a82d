package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(30*time.Second, func() { fired++ })

	c.Advance(29 * time.Second)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, c.PendingCount())

	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, c.PendingCount())

	c.Advance(time.Minute)
	assert.Equal(t, 1, fired, "one-shot timer must not fire twice")
}

func TestFakeStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Hour)
	assert.False(t, fired)
}

func TestFakeDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
}

func TestFakeCallbackSchedulesFollowUp(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { fired++ })
	})

	c.Advance(time.Second)
	assert.Equal(t, 0, fired)
	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
}

func TestNilTimerStop(t *testing.T) {
	var timer *Timer
	assert.False(t, timer.Stop())
}
