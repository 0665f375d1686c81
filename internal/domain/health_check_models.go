package domain

import "time"

// Health check outcomes. Results are append-only audit rows; the outcome is
// final once written.
const (
	OutcomePassed  = "PASSED"
	OutcomeFailed  = "FAILED"
	OutcomeError   = "ERROR"
	OutcomeTimeout = "TIMEOUT"
)

// HealthCheckSpec is one probe definition: a prompt executed through the
// proxy by the task runner, expecting a {"result": bool} answer. The checker
// rotates randomly across enabled specs.
type HealthCheckSpec struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"size:128;not null"`
	Prompt  string `gorm:"type:text;not null"`
	Enabled bool   `gorm:"default:true;index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

type HealthCheckResult struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	ProxyServerID uint64 `gorm:"not null;index"`
	SpecID        *uint  `gorm:"index"`

	Outcome        string `gorm:"size:16;not null;index"`
	ResponseTimeMs uint32 `gorm:"default:0"`
	ErrorMessage   string `gorm:"type:text;default:''"`
	RawResult      string `gorm:"type:text;default:''"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (result *HealthCheckResult) Passed() bool {
	return result.Outcome == OutcomePassed
}
