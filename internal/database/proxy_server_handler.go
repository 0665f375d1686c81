package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"poolwarden/internal/domain"

	"gorm.io/gorm"
)

const healthQueryTimeout = 5 * time.Second

func GetProxyServerByID(id uint64) (*domain.ProxyServer, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}

	var proxy domain.ProxyServer
	err := DB.First(&proxy, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &proxy, nil
}

func GetProxyServerByHostPort(host string, port uint16) (*domain.ProxyServer, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}

	var proxy domain.ProxyServer
	err := DB.Where("host = ? AND port = ?", host, port).First(&proxy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &proxy, nil
}

func CreateProxyServer(proxy *domain.ProxyServer) error {
	if DB == nil {
		return fmt.Errorf("database not initialised")
	}
	return DB.Create(proxy).Error
}

func SaveProxyServer(proxy *domain.ProxyServer) error {
	if DB == nil {
		return fmt.Errorf("database not initialised")
	}
	return DB.Save(proxy).Error
}

// EligibleHealthCheckProxies returns active proxies that were not checked
// within the recheck window. Auto-deactivated proxies are excluded so a
// killed proxy is never rescheduled.
func EligibleHealthCheckProxies(window time.Duration) ([]domain.ProxyServer, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}

	cutoff := time.Now().Add(-window)

	var proxies []domain.ProxyServer
	err := DB.
		Where("is_active = ?", true).
		Where("auto_deactivated_at IS NULL").
		Where("last_checked_at IS NULL OR last_checked_at < ?", cutoff).
		Find(&proxies).Error
	if err != nil {
		return nil, err
	}
	return proxies, nil
}

// RecordHealthOutcome applies one health-check verdict to the failure
// counter and reports whether this call deactivated the proxy. The counter
// update and the deactivation run inside one transaction; on Postgres the
// increment is a single atomic UPDATE so concurrent checks on the same proxy
// cannot race past the threshold.
func RecordHealthOutcome(ctx context.Context, proxyID uint64, passed bool, threshold uint8) (bool, error) {
	if DB == nil {
		return false, fmt.Errorf("database not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	queryCtx, cancel := context.WithTimeout(ctx, healthQueryTimeout)
	defer cancel()

	now := time.Now()
	deactivated := false

	err := DB.WithContext(queryCtx).Transaction(func(tx *gorm.DB) error {
		if passed {
			return tx.Model(&domain.ProxyServer{}).
				Where("id = ?", proxyID).
				Updates(map[string]any{
					"consecutive_health_failures": 0,
					"last_checked_at":             now,
				}).Error
		}

		failures, err := incrementFailureStreak(tx, proxyID)
		if err != nil {
			return err
		}

		if err := tx.Model(&domain.ProxyServer{}).
			Where("id = ?", proxyID).
			Update("last_checked_at", now).Error; err != nil {
			return err
		}

		if threshold == 0 || failures < uint16(threshold) {
			return nil
		}

		res := tx.Model(&domain.ProxyServer{}).
			Where("id = ? AND auto_deactivated_at IS NULL", proxyID).
			Updates(map[string]any{
				"is_active":           false,
				"auto_deactivated_at": now,
				"deactivation_reason": domain.DeactivationReasonHealthFailures,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		// Detach the discovered-IP record so the next pool sync cannot
		// resurrect the proxy from stale provider data.
		if err := tx.Where("proxy_server_id = ?", proxyID).
			Delete(&domain.DiscoveredIP{}).Error; err != nil {
			return err
		}

		deactivated = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return deactivated, nil
}

func incrementFailureStreak(tx *gorm.DB, proxyID uint64) (uint16, error) {
	if isPostgresDialect(tx) {
		var row struct {
			ConsecutiveHealthFailures uint16 `gorm:"column:consecutive_health_failures"`
		}
		err := tx.Raw(
			`UPDATE proxy_servers
			 SET consecutive_health_failures = LEAST(consecutive_health_failures + 1, 65535)
			 WHERE id = $1
			 RETURNING consecutive_health_failures`,
			proxyID,
		).Scan(&row).Error
		if err != nil {
			return 0, err
		}
		return row.ConsecutiveHealthFailures, nil
	}

	// Portable fallback: the enclosing transaction serialises the
	// read-modify-write on stores without UPDATE..RETURNING.
	var proxy domain.ProxyServer
	if err := tx.Select("id", "consecutive_health_failures").
		First(&proxy, proxyID).Error; err != nil {
		return 0, err
	}

	failures := proxy.ConsecutiveHealthFailures
	if failures < 65535 {
		failures++
	}

	if err := tx.Model(&domain.ProxyServer{}).
		Where("id = ?", proxyID).
		Update("consecutive_health_failures", failures).Error; err != nil {
		return 0, err
	}

	return failures, nil
}
