package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesBurstPerRoot(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(30*time.Millisecond, 0)
	defer d.Stop()

	// When: several changes land in two roots
	d.Add("/a", "/a/1.txt")
	d.Add("/a", "/a/2.txt")
	d.Add("/b", "/b/1.txt")
	d.Add("/a", "/a/3.txt")

	// Then: one trigger per root is emitted
	got := map[string]Trigger{}
	for range 2 {
		select {
		case tr := <-d.Output():
			got[tr.Root] = tr
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for trigger")
		}
	}
	assert.Equal(t, 3, got["/a"].Changes)
	assert.Equal(t, "/a/3.txt", got["/a"].Sample)
	assert.Equal(t, 1, got["/b"].Changes)
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncer_MaxDelayFlushesBusyRoot(t *testing.T) {
	// Given: a window longer than the max delay would allow
	d := NewDebouncer(50*time.Millisecond, 120*time.Millisecond)
	defer d.Stop()

	// When: changes keep arriving faster than the window
	start := time.Now()
	stop := time.After(400 * time.Millisecond)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var first Trigger
loop:
	for {
		select {
		case <-ticker.C:
			d.Add("/busy", "/busy/log.txt")
		case first = <-d.Output():
			break loop
		case <-stop:
			t.Fatal("busy root was never flushed")
		}
	}

	// Then: it is flushed near the cap instead of starving
	assert.Less(t, time.Since(start), 350*time.Millisecond)
	assert.Greater(t, first.Changes, 1)
}

func TestDebouncer_StopDiscardsPendingAndClosesOutput(t *testing.T) {
	d := NewDebouncer(time.Hour, 0)
	d.Add("/a", "/a/x.txt")
	require.Equal(t, 1, d.Pending())

	d.Stop()
	d.Stop()
	d.Add("/a", "/a/y.txt")

	_, ok := <-d.Output()
	assert.False(t, ok)
}
