package domain

import "time"

// DiscoveredIP is one resolved IP for a block port, with the ISP and geo
// metadata the provider reported. At most one row exists per IP address; the
// pool syncer upserts in place when a provider remaps IPs across ports.
type DiscoveredIP struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	IPAddress string `gorm:"size:45;not null;uniqueIndex"`
	Port      uint16 `gorm:"not null"`

	IPBlockID     uint    `gorm:"index"`
	ProxyServerID *uint64 `gorm:"index"`

	ISPName      string `gorm:"size:128;default:''"`
	ASN          string `gorm:"size:32;default:''"`
	ISPDomain    string `gorm:"size:128;default:''"`
	Organization string `gorm:"size:128;default:''"`

	City     string  `gorm:"size:128;default:''"`
	CityCode string  `gorm:"size:16;default:''"`
	State    string  `gorm:"size:128;default:''"`
	TimeZone string  `gorm:"size:64;default:''"`
	ZipCode  string  `gorm:"size:16;default:''"`
	Latitude  float64 `gorm:"default:0"`
	Longitude float64 `gorm:"default:0"`

	CountryCode string `gorm:"size:8;default:''"`
	CountryName string `gorm:"size:64;default:''"`
	Continent   string `gorm:"size:32;default:''"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
