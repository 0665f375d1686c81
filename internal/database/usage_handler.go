package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"poolwarden/internal/domain"

	"gorm.io/gorm"
)

const usageInsertBatchSize = 500

func WithTransaction(fn func(tx *gorm.DB) error) error {
	if DB == nil {
		return fmt.Errorf("database not initialised")
	}
	return DB.Transaction(fn)
}

func InsertUsageRecord(record *domain.UsageRecord) error {
	if DB == nil {
		return fmt.Errorf("database not initialised")
	}
	return DB.Create(record).Error
}

// InsertUsageRecords batch-inserts buffered usage rows from the ingest
// routine.
func InsertUsageRecords(ctx context.Context, records []domain.UsageRecord) error {
	if DB == nil {
		return fmt.Errorf("database not initialised")
	}
	if len(records) == 0 {
		return nil
	}
	return DB.WithContext(ctx).CreateInBatches(records, usageInsertBatchSize).Error
}

// OwnersWithUnmeteredUsage returns every distinct owner holding unmetered
// rows inside the given period.
func OwnersWithUnmeteredUsage(periodStart, periodEnd time.Time) ([]domain.OwnerRef, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}

	var rows []struct {
		UserID         *uint
		OrganizationID *uint
	}
	err := DB.Model(&domain.UsageRecord{}).
		Distinct("user_id", "organization_id").
		Where("metered = ?", false).
		Where("created_at >= ? AND created_at < ?", periodStart, periodEnd).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	owners := make([]domain.OwnerRef, 0, len(rows))
	for _, row := range rows {
		owner := domain.OwnerRef{UserID: row.UserID, OrganizationID: row.OrganizationID}
		if owner.Validate() != nil {
			continue
		}
		owners = append(owners, owner)
	}
	return owners, nil
}

// UnmeteredUsageForOwner loads the owner's unmetered rows in the period,
// oldest first. Callers sum in decimal space; database-side SUM is avoided
// so the rounding behaviour does not depend on the dialect's numeric type.
func UnmeteredUsageForOwner(tx *gorm.DB, owner domain.OwnerRef, periodStart, periodEnd time.Time) ([]domain.UsageRecord, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var records []domain.UsageRecord
	err := ownerScope(tx, owner).
		Where("metered = ?", false).
		Where("created_at >= ? AND created_at < ?", periodStart, periodEnd).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func MarkUsageRecordsMetered(tx *gorm.DB, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&domain.UsageRecord{}).
		Where("id IN ? AND metered = ?", ids, false).
		Update("metered", true).Error
}

// OwnerBillable reports whether the owner carries an active paid
// subscription. Unknown owners are treated as not billable.
func OwnerBillable(owner domain.OwnerRef) (bool, error) {
	if DB == nil {
		return false, fmt.Errorf("database not initialised")
	}
	if err := owner.Validate(); err != nil {
		return false, err
	}

	if owner.UserID != nil {
		var user domain.User
		err := DB.Select("id", "billing_plan", "subscription_active").
			First(&user, *owner.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return user.Billable(), nil
	}

	var org domain.Organization
	err := DB.Select("id", "billing_plan", "subscription_active").
		First(&org, *owner.OrganizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return org.Billable(), nil
}
