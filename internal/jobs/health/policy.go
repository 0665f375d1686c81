// Package health runs proxy health probes and applies the auto-deactivation
// policy to their outcomes.
package health

import (
	"context"

	"poolwarden/internal/config"
	"poolwarden/internal/database"
	"poolwarden/internal/metrics"

	"github.com/charmbracelet/log"
)

// Policy tracks consecutive failures per proxy and disables a proxy once
// the configured streak is reached. The threshold is injected so tests can
// pin it to 1.
type Policy struct {
	threshold uint8
}

func NewPolicy(threshold uint8) *Policy {
	return &Policy{threshold: threshold}
}

func PolicyFromConfig() *Policy {
	return NewPolicy(config.GetConfig().Health.FailureThreshold)
}

// RecordHealthCheck feeds one verdict into the failure streak and reports
// whether this call deactivated the proxy. The counter update, the
// deactivation, and the discovered-IP detach are one atomic operation in
// the database layer.
func (policy *Policy) RecordHealthCheck(ctx context.Context, proxyID uint64, passed bool) (bool, error) {
	deactivated, err := database.RecordHealthOutcome(ctx, proxyID, passed, policy.threshold)
	if err != nil {
		return false, err
	}

	if deactivated {
		metrics.ProxiesAutoDeactivated.Inc()
		log.Info("auto-deactivated proxy after repeated health failures",
			"proxy_id", proxyID,
			"threshold", policy.threshold)
	}

	return deactivated, nil
}
