package domain

import (
	"errors"
	"fmt"
	"net"
	"time"

	"poolwarden/internal/security"

	"gorm.io/gorm"
)

// Deactivation reasons stamped on a ProxyServer when it is disabled
// automatically. Operator-driven disables leave the field empty.
const (
	DeactivationReasonHealthFailures = "consecutive_health_failures"
)

type ProxyServer struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Host     string `gorm:"size:255;not null;uniqueIndex:idx_proxy_endpoint,priority:1"`
	Port     uint16 `gorm:"not null;uniqueIndex:idx_proxy_endpoint,priority:2"`
	Username string `gorm:"default:''"`
	Password string `gorm:"-" json:"-"`

	PasswordEncrypted string `gorm:"column:password;default:''" json:"-"`

	// StaticIP is set for dedicated egress points whose public IP never
	// rotates; shared pool proxies leave it empty.
	StaticIP    string `gorm:"size:45;default:''"`
	IsActive    bool   `gorm:"default:true;index"`
	IsDedicated bool   `gorm:"default:false;index"`

	ConsecutiveHealthFailures uint16     `gorm:"default:0"`
	AutoDeactivatedAt         *time.Time `gorm:"index"`
	DeactivationReason        string     `gorm:"size:64;default:''"`
	LastCheckedAt             *time.Time `gorm:"index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (proxy *ProxyServer) BeforeSave(_ *gorm.DB) error {
	if proxy.Password == "" {
		proxy.PasswordEncrypted = ""
		return nil
	}

	encrypted, err := security.EncryptSecret(proxy.Password)
	if err != nil {
		return err
	}

	proxy.PasswordEncrypted = encrypted
	return nil
}

func (proxy *ProxyServer) AfterFind(_ *gorm.DB) error {
	plain, err := security.DecryptSecret(proxy.PasswordEncrypted)
	if err != nil {
		return err
	}

	proxy.Password = plain
	return nil
}

func (proxy *ProxyServer) SetStaticIP(ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return errors.New("invalid IP address")
	}
	if parsed.To4() == nil {
		return errors.New("only IPv4 addresses are supported")
	}
	proxy.StaticIP = parsed.To4().String()
	return nil
}

func (proxy *ProxyServer) Address() string {
	return fmt.Sprintf("%s:%d", proxy.Host, proxy.Port)
}

func (proxy *ProxyServer) HasAuth() bool {
	return proxy.Username != "" && proxy.Password != ""
}

// AutoDeactivated reports whether the proxy was disabled by the health
// policy rather than an operator.
func (proxy *ProxyServer) AutoDeactivated() bool {
	return proxy.AutoDeactivatedAt != nil
}
