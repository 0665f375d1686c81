package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Usage record kinds.
const (
	UsageKindTask      = "task"
	UsageKindAgentStep = "agent_step"
)

// UsageRecord is one billable unit of completed work. Rows start unmetered
// and are flagged metered exactly once, inside the same transaction that
// reports the rounded period total to billing.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	UserID         *uint `gorm:"index:idx_usage_owner_user"`
	OrganizationID *uint `gorm:"index:idx_usage_owner_org"`

	Kind        string          `gorm:"size:32;not null"`
	CreditsCost decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	Metered     bool            `gorm:"default:false;index"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (record *UsageRecord) Owner() OwnerRef {
	return OwnerRef{UserID: record.UserID, OrganizationID: record.OrganizationID}
}

func (record *UsageRecord) BeforeSave(_ *gorm.DB) error {
	return record.Owner().Validate()
}
