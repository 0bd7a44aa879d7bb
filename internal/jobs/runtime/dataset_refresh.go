package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"iptoasn/internal/config"
	"iptoasn/internal/snapshot"
	"iptoasn/internal/support"
)

const datasetRefreshLockKey = "iptoasn:leader:dataset_refresh"

// Reloader is the part of the snapshot controller the refresh loop drives.
type Reloader interface {
	Reload(ctx context.Context) (snapshot.ReloadResult, error)
}

// StartDatasetRefreshRoutine reloads the dataset on the configured interval
// until ctx is done. With a Redis client only the instance holding the leader
// lock downloads; the others receive the dataset through distribution.
// Interval changes from config apply without a restart; an interval of zero
// pauses the routine until a non-zero interval arrives.
func StartDatasetRefreshRoutine(ctx context.Context, reloader Reloader, client *redis.Client) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	intervalValue.Store(config.GetRefreshInterval())

	updateSignal := make(chan struct{}, 1)
	updates := config.RefreshIntervalUpdates()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newInterval := <-updates:
				intervalValue.Store(newInterval)
				select {
				case updateSignal <- struct{}{}:
				default:
				}
			}
		}
	}()

	if client == nil {
		runDatasetRefreshLoop(ctx, reloader, &intervalValue, updateSignal)
		return
	}

	err := support.RunWithLeader(ctx, client, datasetRefreshLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		log.Info("Dataset refresh leadership acquired")
		runDatasetRefreshLoop(leaderCtx, reloader, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Dataset refresh routine stopped", "error", err)
	}
}

func runDatasetRefreshLoop(ctx context.Context, reloader Reloader, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	currentInterval := intervalValue.Load().(time.Duration)

	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	defer ticker.Stop()

	schedule := func(interval time.Duration) {
		drainTicker(ticker)
		if interval <= 0 {
			ticker.Stop()
			log.Info("Automatic database refresh disabled")
			return
		}
		ticker.Reset(interval)
		log.Info("Automatic database refresh scheduled", "every", interval)
	}
	schedule(currentInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RefreshDataset(ctx, reloader, "scheduled")
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval == currentInterval {
				continue
			}
			currentInterval = newInterval
			schedule(currentInterval)
		}
	}
}

// RefreshDataset runs one reload and logs the outcome. A failed reload keeps
// the installed snapshot.
func RefreshDataset(ctx context.Context, reloader Reloader, reason string) {
	start := time.Now()
	log.Info("Updating the ASN database", "reason", reason)

	result, err := reloader.Reload(ctx)
	switch {
	case err != nil:
		log.Warn("Database reload failed, continuing with existing data", "reason", reason, "error", err)
	case result.Unchanged:
		log.Info("ASN database unchanged", "reason", reason, "duration", time.Since(start))
	case result.Snapshot != nil:
		log.Info("ASN database updated", "reason", reason, "records", result.Snapshot.Len(), "duration", time.Since(start))
	}
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}
