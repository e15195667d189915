package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgellow/prima-front/internal/log"
)

// CleanupManager periodically purges sessions past their absolute expiry.
// A sweep never outlives the interval, so a slow Firestore query cannot pile
// up behind the next tick.
type CleanupManager struct {
	storage  Storage
	interval time.Duration

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupManager creates a cleanup manager. A non-positive interval
// falls back to ten minutes.
func NewCleanupManager(storage Storage, interval time.Duration) *CleanupManager {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &CleanupManager{
		storage:  storage,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start sweeps once immediately, then on every interval until Stop or ctx ends
func (cm *CleanupManager) Start(ctx context.Context) {
	ctx, cm.cancel = context.WithCancel(ctx)

	log.LogInfoWithFields("cleanup", "Session sweeper started", map[string]any{
		"interval": cm.interval.String(),
	})

	go func() {
		defer close(cm.done)

		ticker := time.NewTicker(cm.interval)
		defer ticker.Stop()

		for {
			cm.sweep(ctx)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight sweep. Safe to call twice.
func (cm *CleanupManager) Stop() {
	cm.once.Do(func() {
		if cm.cancel == nil {
			close(cm.done)
			return
		}
		cm.cancel()
		<-cm.done
		log.LogInfoWithFields("cleanup", "Session sweeper stopped", nil)
	})
}

func (cm *CleanupManager) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cm.interval)
	defer cancel()

	started := time.Now()
	count, err := cm.storage.CleanupExpiredSessions(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		log.LogErrorWithFields("cleanup", "Failed to purge expired sessions", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogInfoWithFields("cleanup", "Purged expired sessions", map[string]any{
			"count":    count,
			"duration": time.Since(started).String(),
		})
	}
}
