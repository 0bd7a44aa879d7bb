package config

import (
	"sync"
	"sync/atomic"
	"time"
)

var (
	refreshInterval  atomic.Value
	refreshListeners []chan time.Duration
	listenersMu      sync.Mutex
)

func SetBetweenTime() {
	setRefreshInterval(calculateRefreshInterval(GetConfig()))
}

// CalculateBetweenTime converts a timer to a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func (t Timer) IsZero() bool {
	return t.Days == 0 && t.Hours == 0 && t.Minutes == 0 && t.Seconds == 0
}

// GetRefreshInterval returns the delay between dataset refreshes. Zero means
// automatic refresh is disabled.
func GetRefreshInterval() time.Duration {
	return refreshInterval.Load().(time.Duration)
}

// RefreshIntervalUpdates returns a channel that receives the current refresh
// interval immediately and every change after that.
func RefreshIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	refreshListeners = append(refreshListeners, ch)
	listenersMu.Unlock()

	ch <- GetRefreshInterval()
	return ch
}

func setRefreshInterval(interval time.Duration) {
	if interval < 0 {
		interval = 0
	}

	if GetRefreshInterval() == interval {
		return
	}

	refreshInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range refreshListeners {
		select {
		case ch <- interval:
		default:
			// Replace a stale pending value so the newest interval wins.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- interval:
			default:
			}
		}
	}
}

func calculateRefreshInterval(cfg Config) time.Duration {
	timer := cfg.Dataset.RefreshTimer
	if timer.IsZero() {
		return 0
	}
	return CalculateBetweenTime(timer)
}
