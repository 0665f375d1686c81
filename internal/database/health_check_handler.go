package database

import (
	"context"
	"fmt"
	"time"

	"poolwarden/internal/domain"
)

// RandomEnabledHealthCheckSpec picks one enabled spec at random, or nil when
// none are enabled.
func RandomEnabledHealthCheckSpec() (*domain.HealthCheckSpec, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}

	var specs []domain.HealthCheckSpec
	order := "RANDOM()"
	if err := DB.Where("enabled = ?", true).Order(order).Limit(1).Find(&specs).Error; err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, nil
	}
	return &specs[0], nil
}

func InsertHealthCheckResult(result *domain.HealthCheckResult) error {
	if DB == nil {
		return fmt.Errorf("database not initialised")
	}
	return DB.Create(result).Error
}

// DeleteHealthCheckResultsBefore prunes audit rows older than the cutoff and
// returns how many were removed.
func DeleteHealthCheckResultsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialised")
	}

	res := DB.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.HealthCheckResult{})
	return res.RowsAffected, res.Error
}
