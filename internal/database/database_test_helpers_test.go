package database

import (
	"fmt"
	"testing"

	"poolwarden/internal/domain"
	"poolwarden/internal/security"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	t.Setenv("CREDENTIAL_ENCRYPTION_KEY", "database-test-key")
	security.ResetSecretBoxForTests()
	t.Cleanup(security.ResetSecretBoxForTests)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Organization{},
		&domain.IPBlock{},
		&domain.DiscoveredIP{},
		&domain.ProxyServer{},
		&domain.HealthCheckSpec{},
		&domain.HealthCheckResult{},
		&domain.DedicatedAllocation{},
		&domain.UsageRecord{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	DB = db
	t.Cleanup(func() {
		DB = nil
	})

	return db
}

func createTestProxy(t *testing.T, db *gorm.DB, host string, port uint16, dedicated bool) domain.ProxyServer {
	t.Helper()

	proxy := domain.ProxyServer{
		Host:        host,
		Port:        port,
		Username:    "user",
		Password:    "pass",
		IsActive:    true,
		IsDedicated: dedicated,
	}
	if err := db.Create(&proxy).Error; err != nil {
		t.Fatalf("create proxy %s:%d: %v", host, port, err)
	}
	return proxy
}
