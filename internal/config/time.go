package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultPoolSyncInterval     = 6 * time.Hour
	defaultNightlyCheckInterval = 24 * time.Hour
	defaultRollupInterval       = time.Hour
)

var (
	poolSyncInterval     atomic.Value
	nightlyCheckInterval atomic.Value
	rollupInterval       atomic.Value

	poolSyncListeners     []chan time.Duration
	nightlyCheckListeners []chan time.Duration
	rollupListeners       []chan time.Duration
	listenersMu           sync.Mutex
)

func init() {
	poolSyncInterval.Store(defaultPoolSyncInterval)
	nightlyCheckInterval.Store(defaultNightlyCheckInterval)
	rollupInterval.Store(defaultRollupInterval)
}

func refreshIntervals() {
	cfg := GetConfig()
	setInterval(&poolSyncInterval, poolSyncListeners, timerOrDefault(cfg.Sync.SyncTimer, defaultPoolSyncInterval))
	setInterval(&nightlyCheckInterval, nightlyCheckListeners, timerOrDefault(cfg.Health.NightlyTimer, defaultNightlyCheckInterval))
	setInterval(&rollupInterval, rollupListeners, timerOrDefault(cfg.Metering.RollupTimer, defaultRollupInterval))
}

// CalculateInterval converts a Timer into a duration with a one-second floor.
func CalculateInterval(timer Timer) time.Duration {
	intervalMs := MillisecondsOfTimer(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func MillisecondsOfTimer(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func timerOrDefault(timer Timer, fallback time.Duration) time.Duration {
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return fallback
	}
	return CalculateInterval(timer)
}

func GetPoolSyncInterval() time.Duration {
	return poolSyncInterval.Load().(time.Duration)
}

func GetNightlyCheckInterval() time.Duration {
	return nightlyCheckInterval.Load().(time.Duration)
}

func GetRollupInterval() time.Duration {
	return rollupInterval.Load().(time.Duration)
}

func PoolSyncIntervalUpdates() <-chan time.Duration {
	return registerListener(&poolSyncListeners, GetPoolSyncInterval())
}

func NightlyCheckIntervalUpdates() <-chan time.Duration {
	return registerListener(&nightlyCheckListeners, GetNightlyCheckInterval())
}

func RollupIntervalUpdates() <-chan time.Duration {
	return registerListener(&rollupListeners, GetRollupInterval())
}

func registerListener(listeners *[]chan time.Duration, current time.Duration) <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	*listeners = append(*listeners, ch)
	listenersMu.Unlock()

	ch <- current
	return ch
}

func setInterval(value *atomic.Value, listeners []chan time.Duration, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	if current, ok := value.Load().(time.Duration); ok && current == interval {
		return
	}

	value.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range listeners {
		select {
		case ch <- interval:
		default:
		}
	}
}
