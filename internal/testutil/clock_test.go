package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_NowIsFrozen(t *testing.T) {
	c := NewFakeClock(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, epoch.Add(time.Minute), c.Now())

	c.Set(epoch)
	assert.Equal(t, epoch, c.Now())
}

func TestFakeClock_AfterFiresOnAdvance(t *testing.T) {
	c := NewFakeClock(epoch)
	ch := c.After(time.Hour)

	c.Advance(59 * time.Minute)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(time.Minute)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(time.Hour), got)
	default:
		t.Fatal("did not fire")
	}
	assert.Equal(t, 0, c.Waiters())
}

func TestFakeClock_AfterNonPositiveFiresImmediately(t *testing.T) {
	c := NewFakeClock(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestFakeClock_AfterFuncAndStop(t *testing.T) {
	c := NewFakeClock(epoch)

	var wg sync.WaitGroup
	wg.Add(1)
	c.AfterFunc(time.Second, wg.Done)

	stopped := c.AfterFunc(time.Second, func() { t.Error("stopped timer fired") })
	require.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	c.Advance(time.Second)
	wg.Wait()
}

func TestFakeClock_BlockUntil(t *testing.T) {
	c := NewFakeClock(epoch)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.After(time.Minute)
	}()

	assert.True(t, c.BlockUntil(1, time.Second))
	assert.False(t, c.BlockUntil(2, 20*time.Millisecond))
}

func TestSequenceIDGenerator(t *testing.T) {
	g := NewSequenceIDGenerator("session")
	assert.Equal(t, "session-1", g.Generate())
	assert.Equal(t, "session-2", g.Generate())

	assert.Equal(t, "id-1", NewSequenceIDGenerator("").Generate())
}
