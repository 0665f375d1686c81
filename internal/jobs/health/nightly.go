package health

import (
	"context"
	"math/rand"
	"time"

	"poolwarden/internal/config"
	"poolwarden/internal/database"
	"poolwarden/internal/domain"

	"github.com/charmbracelet/log"
)

// BatchStats summarises one nightly run.
type BatchStats struct {
	Eligible int
	Sampled  int
	Passed   int
	Failed   int
}

// NightlyHealthCheck probes a random sample of the proxies that are due for
// a recheck. Proxies run sequentially so one batch cannot flood the task
// runner; each proxy's verdict lands independently even if a later one
// errors out.
func (checker *Checker) NightlyHealthCheck(ctx context.Context) (BatchStats, error) {
	cfg := config.GetConfig().Health
	window := time.Duration(cfg.RecheckWindow) * time.Hour

	eligible, err := database.EligibleHealthCheckProxies(window)
	if err != nil {
		return BatchStats{}, err
	}

	stats := BatchStats{Eligible: len(eligible)}
	if len(eligible) == 0 {
		log.Debug("nightly health check: no proxies due")
		return stats, nil
	}

	sampled := sampleProxies(eligible, sampleSize(len(eligible), cfg.SampleFraction, cfg.SampleMin, cfg.SampleMax))
	stats.Sampled = len(sampled)

	log.Info("nightly health check starting",
		"eligible", stats.Eligible,
		"sampled", stats.Sampled)

	for _, proxy := range sampled {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		result := checker.RunCheck(ctx, proxy)
		if result.Passed() {
			stats.Passed++
		} else {
			stats.Failed++
		}
	}

	log.Info("nightly health check finished",
		"passed", stats.Passed,
		"failed", stats.Failed)
	return stats, nil
}

// sampleSize scales with the eligible population between a floor and a
// ceiling, then caps at what is actually available.
func sampleSize(eligible int, fraction float64, minSize, maxSize int) int {
	size := int(fraction * float64(eligible))
	if size < minSize {
		size = minSize
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	if size > eligible {
		size = eligible
	}
	return size
}

func sampleProxies(proxies []domain.ProxyServer, size int) []domain.ProxyServer {
	shuffled := make([]domain.ProxyServer, len(proxies))
	copy(shuffled, proxies)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:size]
}
