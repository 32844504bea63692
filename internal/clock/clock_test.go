package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	f := NewFake(epoch)
	short := f.After(time.Second)
	long := f.After(time.Minute)

	f.Advance(2 * time.Second)

	select {
	case at := <-short:
		assert.Equal(t, epoch.Add(2*time.Second), at)
	default:
		t.Fatal("short timer should have fired")
	}
	select {
	case <-long:
		t.Fatal("long timer should still be pending")
	default:
	}

	f.Advance(time.Minute)
	select {
	case <-long:
	default:
		t.Fatal("long timer should have fired")
	}
}

func TestAutoFakeRecordsWaits(t *testing.T) {
	f := NewAutoFake(epoch)

	<-f.After(time.Second)
	<-f.After(2 * time.Second)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.Waits())
	assert.Equal(t, epoch.Add(3*time.Second), f.Now())
}

func TestBlockUntil(t *testing.T) {
	f := NewFake(epoch)
	done := make(chan struct{})

	go func() {
		<-f.After(time.Second)
		close(done)
	}()

	f.BlockUntil(1)
	f.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine never woke")
	}
}

func TestSleepStopsOnDone(t *testing.T) {
	f := NewFake(epoch)
	done := make(chan struct{})
	close(done)

	require.False(t, Sleep(f, time.Hour, done))
	assert.True(t, Sleep(f, 0, done), "zero delay never blocks")
}
