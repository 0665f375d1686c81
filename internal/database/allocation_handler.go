package database

import (
	"errors"
	"fmt"
	"strings"

	"poolwarden/internal/domain"

	"gorm.io/gorm"
)

func ownerScope(tx *gorm.DB, owner domain.OwnerRef) *gorm.DB {
	if owner.UserID != nil {
		return tx.Where("user_id = ? AND organization_id IS NULL", *owner.UserID)
	}
	return tx.Where("organization_id = ? AND user_id IS NULL", *owner.OrganizationID)
}

// AllocateProxy binds a dedicated proxy to an owner. Allocating a shared
// proxy or an already-bound proxy is a caller error and surfaces as a typed
// domain error.
func AllocateProxy(proxyID uint64, owner domain.OwnerRef) (*domain.DedicatedAllocation, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	proxy, err := GetProxyServerByID(proxyID)
	if err != nil {
		return nil, err
	}
	if proxy == nil {
		return nil, fmt.Errorf("proxy %d not found", proxyID)
	}
	if !proxy.IsDedicated {
		return nil, domain.ErrNotDedicated
	}

	allocation := domain.DedicatedAllocation{
		ProxyServerID:  proxyID,
		UserID:         owner.UserID,
		OrganizationID: owner.OrganizationID,
	}

	err = DB.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&domain.DedicatedAllocation{}).
			Where("proxy_server_id = ?", proxyID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return domain.ErrAlreadyAllocated
		}

		return tx.Create(&allocation).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyAllocated
		}
		return nil, err
	}

	return &allocation, nil
}

func ReleaseProxy(proxyID uint64, owner domain.OwnerRef) (bool, error) {
	if DB == nil {
		return false, fmt.Errorf("database not initialised")
	}
	if err := owner.Validate(); err != nil {
		return false, err
	}

	res := ownerScope(DB.Where("proxy_server_id = ?", proxyID), owner).
		Delete(&domain.DedicatedAllocation{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseAllProxies removes an owner's allocations, newest first. A limit of
// zero releases everything; a positive limit supports partial release when a
// subscription quantity shrinks.
func ReleaseAllProxies(owner domain.OwnerRef, limit int) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialised")
	}
	if err := owner.Validate(); err != nil {
		return 0, err
	}

	var released int64
	err := DB.Transaction(func(tx *gorm.DB) error {
		query := ownerScope(tx.Model(&domain.DedicatedAllocation{}), owner).
			Order("created_at DESC, id DESC")
		if limit > 0 {
			query = query.Limit(limit)
		}

		var ids []uint64
		if err := query.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.Where("id IN ?", ids).Delete(&domain.DedicatedAllocation{})
		if res.Error != nil {
			return res.Error
		}
		released = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	return released, nil
}

func AllocatedCount(owner domain.OwnerRef) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialised")
	}
	if err := owner.Validate(); err != nil {
		return 0, err
	}

	var count int64
	err := ownerScope(DB.Model(&domain.DedicatedAllocation{}), owner).Count(&count).Error
	return count, err
}

func AllocatedProxies(owner domain.OwnerRef) ([]domain.ProxyServer, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var proxies []domain.ProxyServer
	err := DB.
		Where("id IN (?)", ownerScope(
			DB.Model(&domain.DedicatedAllocation{}).Select("proxy_server_id"), owner)).
		Order("id").
		Find(&proxies).Error
	if err != nil {
		return nil, err
	}
	return proxies, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
