package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	c := NewFakeClock(time.Time{})
	assert.Equal(t, DefaultEpoch, c.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	c := NewFakeClock(time.Time{})

	got := c.Advance(30 * time.Second)
	assert.Equal(t, DefaultEpoch.Add(30*time.Second), got)
	assert.Equal(t, got, c.Now())
}

func TestFakeClock_SetAndReset(t *testing.T) {
	c := NewFakeClock(time.Time{})
	target := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)

	c.Set(target)
	assert.Equal(t, target, c.Now())

	c.Reset()
	assert.Equal(t, DefaultEpoch, c.Now())
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	c := NewFakeClock(time.Time{})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultEpoch.Add(100*time.Millisecond), c.Now())
}
