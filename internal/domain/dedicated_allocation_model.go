package domain

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotDedicated     = errors.New("proxy is not a dedicated egress point")
	ErrAlreadyAllocated = errors.New("proxy is already allocated to an owner")
)

// DedicatedAllocation binds one dedicated ProxyServer to exactly one owner.
// The unique index on ProxyServerID enforces one-owner-per-proxy at the
// datastore level; owner exclusivity is validated before every save.
type DedicatedAllocation struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	ProxyServerID uint64 `gorm:"not null;uniqueIndex"`

	UserID         *uint `gorm:"index"`
	OrganizationID *uint `gorm:"index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (allocation *DedicatedAllocation) Owner() OwnerRef {
	return OwnerRef{UserID: allocation.UserID, OrganizationID: allocation.OrganizationID}
}

func (allocation *DedicatedAllocation) BeforeSave(_ *gorm.DB) error {
	return allocation.Owner().Validate()
}
