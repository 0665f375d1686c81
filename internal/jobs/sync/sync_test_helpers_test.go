package sync

import (
	"context"
	"fmt"
	"testing"

	"poolwarden/internal/database"
	"poolwarden/internal/decodo"
	"poolwarden/internal/domain"
	"poolwarden/internal/security"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSyncTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	t.Setenv("CREDENTIAL_ENCRYPTION_KEY", "sync-test-key")
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
		&domain.IPBlock{},
		&domain.DiscoveredIP{},
		&domain.ProxyServer{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	database.DB = db
	t.Cleanup(func() {
		database.DB = nil
	})

	return db
}

func createTestBlock(t *testing.T, db *gorm.DB, endpoint string, startPort, size uint16, dedicated bool) domain.IPBlock {
	t.Helper()

	block := domain.IPBlock{
		Label:       "test block",
		Endpoint:    endpoint,
		StartPort:   startPort,
		BlockSize:   size,
		Username:    "blockuser",
		Password:    "blockpass",
		IsDedicated: dedicated,
	}
	if err := db.Create(&block).Error; err != nil {
		t.Fatalf("create block: %v", err)
	}
	return block
}

// fakeLookup maps port -> IP, mimicking a provider that can remap IPs
// across ports between passes.
type fakeLookup struct {
	ipsByPort  map[uint16]string
	failPorts  map[uint16]bool
	callCount  int
	seenProxies []domain.ProxyServer
}

func (fake *fakeLookup) Lookup(_ context.Context, through domain.ProxyServer) (*decodo.IPInfo, error) {
	fake.callCount++
	fake.seenProxies = append(fake.seenProxies, through)

	if fake.failPorts[through.Port] {
		return nil, fmt.Errorf("connect through %s: connection refused", through.Address())
	}

	ip, ok := fake.ipsByPort[through.Port]
	if !ok {
		return nil, fmt.Errorf("no upstream ip for port %d", through.Port)
	}

	var info decodo.IPInfo
	info.Proxy.IP = ip
	info.ISP.ISP = "ExampleNet"
	info.City.Name = "Berlin"
	info.Country.Code = "DE"
	return &info, nil
}
