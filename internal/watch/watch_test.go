package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-campaign/internal/watch"
)

func TestBurstTriggersOneRun(t *testing.T) {
	var runs atomic.Int32
	trigger := watch.NewTrigger(50*time.Millisecond, func() { runs.Add(1) }, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trigger.Run(ctx)

	// Five rapid changes, then silence: exactly one run after the quiet
	// window.
	for i := 0; i < 5; i++ {
		trigger.Bump()
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestQuietWindowRestartsOnEachEvent(t *testing.T) {
	var runs atomic.Int32
	trigger := watch.NewTrigger(80*time.Millisecond, func() { runs.Add(1) }, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trigger.Run(ctx)

	// Keep bumping faster than the quiet window; nothing may fire yet.
	for i := 0; i < 4; i++ {
		trigger.Bump()
		time.Sleep(40 * time.Millisecond)
	}
	assert.Equal(t, int32(0), runs.Load())

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWatchPicksUpFileReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipients.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,phone\n"), 0644))

	var runs atomic.Int32
	trigger := watch.NewTrigger(30*time.Millisecond, func() { runs.Add(1) }, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trigger.Run(ctx)
	go func() {
		_ = trigger.Watch(ctx, path)
	}()

	// Let the watcher attach before editing.
	time.Sleep(50 * time.Millisecond)

	// An atomic replace, the way uploads land.
	tmp := filepath.Join(dir, "recipients.csv.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("name,phone\nAlice,+1\n"), 0644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
}
