package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than limit goroutines are running.
// Analytics workers and in-flight checkouts account for most of them, so a
// steadily growing count usually means a leaked request.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit %d", n, limit)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when a stop-the-world pause that ended after the
// previous run took longer than limit. Pauses already reported are skipped.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return gcPauseCheck(limit, debug.ReadGCStats)
}

func gcPauseCheck(limit time.Duration, read func(*debug.GCStats)) CheckFunc {
	var (
		mu       sync.Mutex
		lastSeen time.Time
	)
	return func(_ context.Context) error {
		var stats debug.GCStats
		read(&stats)

		mu.Lock()
		since := lastSeen
		if len(stats.PauseEnd) > 0 {
			lastSeen = stats.PauseEnd[0]
		}
		mu.Unlock()

		// Pause and PauseEnd are ordered most recent first.
		for i, pause := range stats.Pause {
			if i < len(stats.PauseEnd) && !stats.PauseEnd[i].After(since) {
				break
			}
			if pause > limit {
				return errors.Errorf("GC pause %s over limit %s", pause, limit)
			}
		}
		return nil
	}
}
