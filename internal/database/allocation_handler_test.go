package database

import (
	"errors"
	"testing"

	"poolwarden/internal/domain"
)

func TestAllocateProxyRejectsSharedProxy(t *testing.T) {
	db := setupTestDB(t)
	proxy := createTestProxy(t, db, "gate.example", 10001, false)

	_, err := AllocateProxy(proxy.ID, domain.UserOwner(1))
	if !errors.Is(err, domain.ErrNotDedicated) {
		t.Fatalf("allocate shared proxy error = %v, want ErrNotDedicated", err)
	}
}

func TestAllocateProxyExclusivity(t *testing.T) {
	db := setupTestDB(t)
	proxy := createTestProxy(t, db, "gate.example", 10002, true)

	if _, err := AllocateProxy(proxy.ID, domain.UserOwner(1)); err != nil {
		t.Fatalf("first allocation: %v", err)
	}

	_, err := AllocateProxy(proxy.ID, domain.UserOwner(2))
	if !errors.Is(err, domain.ErrAlreadyAllocated) {
		t.Fatalf("second allocation error = %v, want ErrAlreadyAllocated", err)
	}

	_, err = AllocateProxy(proxy.ID, domain.OrganizationOwner(9))
	if !errors.Is(err, domain.ErrAlreadyAllocated) {
		t.Fatalf("org allocation error = %v, want ErrAlreadyAllocated", err)
	}
}

func TestAllocateProxyRejectsInvalidOwner(t *testing.T) {
	db := setupTestDB(t)
	proxy := createTestProxy(t, db, "gate.example", 10003, true)

	if _, err := AllocateProxy(proxy.ID, domain.OwnerRef{}); !errors.Is(err, domain.ErrOwnerRequired) {
		t.Fatalf("empty owner error = %v, want ErrOwnerRequired", err)
	}

	userID := uint(1)
	orgID := uint(2)
	both := domain.OwnerRef{UserID: &userID, OrganizationID: &orgID}
	if _, err := AllocateProxy(proxy.ID, both); !errors.Is(err, domain.ErrOwnerConflict) {
		t.Fatalf("double owner error = %v, want ErrOwnerConflict", err)
	}
}

func TestReleaseProxy(t *testing.T) {
	db := setupTestDB(t)
	proxy := createTestProxy(t, db, "gate.example", 10004, true)
	owner := domain.UserOwner(5)

	if _, err := AllocateProxy(proxy.ID, owner); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	released, err := ReleaseProxy(proxy.ID, owner)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !released {
		t.Fatal("release reported no rows removed")
	}

	released, err = ReleaseProxy(proxy.ID, owner)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if released {
		t.Fatal("second release removed rows")
	}
}

func TestReleaseProxyScopedToOwner(t *testing.T) {
	db := setupTestDB(t)
	proxy := createTestProxy(t, db, "gate.example", 10005, true)

	if _, err := AllocateProxy(proxy.ID, domain.UserOwner(5)); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	released, err := ReleaseProxy(proxy.ID, domain.UserOwner(6))
	if err != nil {
		t.Fatalf("release as other owner: %v", err)
	}
	if released {
		t.Fatal("release removed another owner's allocation")
	}

	count, err := AllocatedCount(domain.UserOwner(5))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("allocated count = %d, want 1", count)
	}
}

func TestReleaseAllProxiesWithLimit(t *testing.T) {
	db := setupTestDB(t)
	owner := domain.OrganizationOwner(3)

	for i := 0; i < 4; i++ {
		proxy := createTestProxy(t, db, "gate.example", uint16(10010+i), true)
		if _, err := AllocateProxy(proxy.ID, owner); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}

	released, err := ReleaseAllProxies(owner, 2)
	if err != nil {
		t.Fatalf("partial release: %v", err)
	}
	if released != 2 {
		t.Fatalf("partial release removed %d, want 2", released)
	}

	count, err := AllocatedCount(owner)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("remaining count = %d, want 2", count)
	}

	released, err = ReleaseAllProxies(owner, 0)
	if err != nil {
		t.Fatalf("full release: %v", err)
	}
	if released != 2 {
		t.Fatalf("full release removed %d, want 2", released)
	}
}

func TestAllocatedProxies(t *testing.T) {
	db := setupTestDB(t)
	owner := domain.UserOwner(11)

	first := createTestProxy(t, db, "gate.example", 10020, true)
	second := createTestProxy(t, db, "gate.example", 10021, true)
	createTestProxy(t, db, "gate.example", 10022, true)

	if _, err := AllocateProxy(first.ID, owner); err != nil {
		t.Fatalf("allocate first: %v", err)
	}
	if _, err := AllocateProxy(second.ID, owner); err != nil {
		t.Fatalf("allocate second: %v", err)
	}

	proxies, err := AllocatedProxies(owner)
	if err != nil {
		t.Fatalf("allocated proxies: %v", err)
	}
	if len(proxies) != 2 {
		t.Fatalf("allocated proxies = %d, want 2", len(proxies))
	}
	if proxies[0].ID != first.ID || proxies[1].ID != second.ID {
		t.Fatalf("allocated proxy IDs = %d,%d", proxies[0].ID, proxies[1].ID)
	}
}
