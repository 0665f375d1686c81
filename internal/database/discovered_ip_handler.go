package database

import (
	"errors"
	"fmt"

	"poolwarden/internal/domain"

	"gorm.io/gorm"
)

func GetDiscoveredIPByAddress(ip string) (*domain.DiscoveredIP, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}

	var discovered domain.DiscoveredIP
	err := DB.Where("ip_address = ?", ip).First(&discovered).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &discovered, nil
}

func SaveDiscoveredIP(discovered *domain.DiscoveredIP) error {
	if DB == nil {
		return fmt.Errorf("database not initialised")
	}
	return DB.Save(discovered).Error
}

func GetProxyServerByDiscoveredIP(ip string) (*domain.ProxyServer, error) {
	discovered, err := GetDiscoveredIPByAddress(ip)
	if err != nil || discovered == nil || discovered.ProxyServerID == nil {
		return nil, err
	}
	return GetProxyServerByID(*discovered.ProxyServerID)
}

// ListDiscoveredIPsMissingProxy returns discovery rows whose proxy record is
// absent, either because the back-reference was never set or because it
// points at a deleted row.
func ListDiscoveredIPsMissingProxy() ([]domain.DiscoveredIP, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}

	var orphans []domain.DiscoveredIP
	err := DB.
		Where("proxy_server_id IS NULL OR proxy_server_id NOT IN (?)",
			DB.Model(&domain.ProxyServer{}).Select("id")).
		Find(&orphans).Error
	if err != nil {
		return nil, err
	}
	return orphans, nil
}
