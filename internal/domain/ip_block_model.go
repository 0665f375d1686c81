package domain

import (
	"time"

	"poolwarden/internal/security"

	"gorm.io/gorm"
)

// IPBlock is a provider-assigned range of ports on one endpoint hostname.
// Each port in [StartPort, StartPort+BlockSize) resolves to one upstream IP.
// Immutable after creation except for credential rotation.
type IPBlock struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Label    string `gorm:"size:128;default:''"`
	Endpoint string `gorm:"size:255;not null"`

	StartPort uint16 `gorm:"not null"`
	BlockSize uint16 `gorm:"not null"`

	Username string `gorm:"default:''"`
	Password string `gorm:"-" json:"-"`

	PasswordEncrypted string `gorm:"column:password;default:''" json:"-"`

	// IsDedicated marks blocks whose derived proxies can be bound to a
	// single paying owner.
	IsDedicated bool `gorm:"default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (block *IPBlock) BeforeSave(_ *gorm.DB) error {
	if block.Password == "" {
		block.PasswordEncrypted = ""
		return nil
	}

	encrypted, err := security.EncryptSecret(block.Password)
	if err != nil {
		return err
	}

	block.PasswordEncrypted = encrypted
	return nil
}

func (block *IPBlock) AfterFind(_ *gorm.DB) error {
	plain, err := security.DecryptSecret(block.PasswordEncrypted)
	if err != nil {
		return err
	}

	block.Password = plain
	return nil
}

// PortAt returns the provider port for the given offset within the block.
func (block *IPBlock) PortAt(offset uint16) uint16 {
	return block.StartPort + offset
}
