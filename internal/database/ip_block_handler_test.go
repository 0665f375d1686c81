package database

import (
	"strings"
	"testing"

	"poolwarden/internal/domain"
	"poolwarden/internal/security"
)

func TestRotateIPBlockCredentials(t *testing.T) {
	db := setupTestDB(t)

	block := domain.IPBlock{
		Label:     "rotation block",
		Endpoint:  "gate.provider.example",
		StartPort: 10000,
		BlockSize: 4,
		Username:  "olduser",
		Password:  "oldpass",
	}
	if err := db.Create(&block).Error; err != nil {
		t.Fatalf("create block: %v", err)
	}

	if err := RotateIPBlockCredentials(block.ID, "newuser", "newpass"); err != nil {
		t.Fatalf("rotate credentials: %v", err)
	}

	reloaded, err := GetIPBlockByID(block.ID)
	if err != nil {
		t.Fatalf("reload block: %v", err)
	}
	if reloaded.Username != "newuser" || reloaded.Password != "newpass" {
		t.Fatalf("credentials = %q/%q, want newuser/newpass", reloaded.Username, reloaded.Password)
	}

	// The stored column must never hold the plaintext.
	var stored struct {
		Password string
	}
	if err := db.Model(&domain.IPBlock{}).
		Select("password").
		Where("id = ?", block.ID).
		Scan(&stored).Error; err != nil {
		t.Fatalf("read stored password: %v", err)
	}
	if !strings.HasPrefix(stored.Password, security.EncryptedPrefix) {
		t.Fatalf("stored password %q is not encrypted", stored.Password)
	}

	if err := RotateIPBlockCredentials(9999, "u", "p"); err == nil {
		t.Fatal("rotating an unknown block did not error")
	}
}

func TestListIPBlockIDs(t *testing.T) {
	db := setupTestDB(t)

	for port := uint16(10000); port < 10300; port += 100 {
		block := domain.IPBlock{
			Label:     "block",
			Endpoint:  "gate.provider.example",
			StartPort: port,
			BlockSize: 2,
			Username:  "u",
			Password:  "p",
		}
		if err := db.Create(&block).Error; err != nil {
			t.Fatalf("create block: %v", err)
		}
	}

	ids, err := ListIPBlockIDs()
	if err != nil {
		t.Fatalf("list block ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3 entries", ids)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not ascending: %v", ids)
		}
	}
}
