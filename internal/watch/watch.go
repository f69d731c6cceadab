// Package watch re-runs the campaign when the recipient file is edited from
// outside, collapsing bursts of change events into a single run.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Trigger debounces change notifications: a quiet-window timer is re-armed
// on every bump and the callback fires only once the bumps stop. The timer
// state machine is explicit (armed while the timer is live, idle otherwise)
// so a pending trigger is always cancellable by the next event.
type Trigger struct {
	quiet time.Duration
	fn    func()
	log   zerolog.Logger
	bumps chan struct{}
}

func NewTrigger(quiet time.Duration, fn func(), log zerolog.Logger) *Trigger {
	return &Trigger{
		quiet: quiet,
		fn:    fn,
		log:   log.With().Str("component", "watch").Logger(),
		bumps: make(chan struct{}, 1),
	}
}

// Bump records one change event. Never blocks; coalescing with an already
// pending bump is fine because the debounce collapses them anyway.
func (t *Trigger) Bump() {
	select {
	case t.bumps <- struct{}{}:
	default:
	}
}

// Run drives the debounce loop until ctx is done.
func (t *Trigger) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.bumps:
			if timer == nil {
				timer = time.NewTimer(t.quiet)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-fire
				}
				timer.Reset(t.quiet)
			}
		case <-fire:
			timer = nil
			fire = nil
			t.log.Info().Msg("Recipient file changed, re-running campaign")
			t.fn()
		}
	}
}

// Watch feeds filesystem events for path into the debounce loop. The parent
// directory is watched rather than the file itself because atomic saves
// replace the inode.
func (t *Trigger) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			t.Bump()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warn().Err(err).Msg("Watcher error")
		}
	}
}
