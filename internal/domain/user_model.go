package domain

import "time"

const PlanFree = "free"

type User struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	Email string `gorm:"size:255;not null;uniqueIndex"`

	BillingPlan        string `gorm:"size:32;default:'free'"`
	SubscriptionActive bool   `gorm:"default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Billable reports whether usage for this user may be reported to billing.
// Free-plan usage is tracked but never metered.
func (user *User) Billable() bool {
	return user.SubscriptionActive && user.BillingPlan != PlanFree
}
