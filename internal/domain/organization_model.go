package domain

import "time"

type Organization struct {
	ID   uint   `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"size:255;not null"`

	BillingPlan        string `gorm:"size:32;default:'free'"`
	SubscriptionActive bool   `gorm:"default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (org *Organization) Billable() bool {
	return org.SubscriptionActive && org.BillingPlan != PlanFree
}
