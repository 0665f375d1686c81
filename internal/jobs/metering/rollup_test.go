package metering

import (
	"context"
	"fmt"
	"testing"
	"time"

	"poolwarden/internal/database"
	"poolwarden/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	midMonth = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	monthEnd = time.Date(2026, time.March, 31, 23, 0, 0, 0, time.UTC)
)

func setupMeteringTestDB(t *testing.T) *gorm.DB {
	t.Helper()

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
		&domain.UsageRecord{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	database.DB = db
	t.Cleanup(func() {
		database.DB = nil
	})

	return db
}

func createPaidUser(t *testing.T, db *gorm.DB, email string) domain.User {
	t.Helper()

	user := domain.User{Email: email, BillingPlan: "pro", SubscriptionActive: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createUsage(t *testing.T, db *gorm.DB, owner domain.OwnerRef, cost string, createdAt time.Time) domain.UsageRecord {
	t.Helper()

	record := domain.UsageRecord{
		UserID:         owner.UserID,
		OrganizationID: owner.OrganizationID,
		Kind:           domain.UsageKindTask,
		CreditsCost:    decimal.RequireFromString(cost),
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("create usage record: %v", err)
	}
	if err := db.Model(&domain.UsageRecord{}).
		Where("id = ?", record.ID).
		Update("created_at", createdAt).Error; err != nil {
		t.Fatalf("backdate usage record: %v", err)
	}
	return record
}

func unmeteredCount(t *testing.T, db *gorm.DB, owner domain.OwnerRef) int64 {
	t.Helper()

	query := db.Model(&domain.UsageRecord{}).Where("metered = ?", false)
	if owner.UserID != nil {
		query = query.Where("user_id = ?", *owner.UserID)
	} else {
		query = query.Where("organization_id = ?", *owner.OrganizationID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		t.Fatalf("count unmetered: %v", err)
	}
	return count
}

type reportedCall struct {
	owner    domain.OwnerRef
	quantity int64
	key      string
}

type fakeReporter struct {
	calls      []reportedCall
	failOwners map[string]bool
}

func (fake *fakeReporter) ReportUsage(_ context.Context, owner domain.OwnerRef, quantity int64, key string) error {
	fake.calls = append(fake.calls, reportedCall{owner: owner, quantity: quantity, key: key})
	if fake.failOwners[owner.Key()] {
		return fmt.Errorf("billing api unavailable")
	}
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestRollupCarriesSubCreditRemainder(t *testing.T) {
	db := setupMeteringTestDB(t)
	user := createPaidUser(t, db, "carry@example.com")
	owner := domain.UserOwner(user.ID)

	createUsage(t, db, owner, "0.2", midMonth.Add(-2*time.Hour))
	createUsage(t, db, owner, "0.2", midMonth.Add(-1*time.Hour))

	reporter := &fakeReporter{}
	meter := NewMeter(reporter).WithClock(fixedClock(midMonth))

	stats, err := meter.RollupAndMeter(context.Background())
	if err != nil {
		t.Fatalf("first rollup: %v", err)
	}
	if len(reporter.calls) != 0 {
		t.Fatalf("sub-credit total reported: %+v", reporter.calls)
	}
	if stats.Reported != 0 {
		t.Fatalf("stats = %+v, want nothing reported", stats)
	}
	if got := unmeteredCount(t, db, owner); got != 2 {
		t.Fatalf("unmetered rows = %d, want 2 carried forward", got)
	}

	createUsage(t, db, owner, "0.3", midMonth)

	stats, err = meter.RollupAndMeter(context.Background())
	if err != nil {
		t.Fatalf("second rollup: %v", err)
	}
	if len(reporter.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(reporter.calls))
	}
	if reporter.calls[0].quantity != 1 {
		t.Fatalf("reported quantity = %d, want 1", reporter.calls[0].quantity)
	}
	if stats.Reported != 1 || stats.Credits != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if got := unmeteredCount(t, db, owner); got != 0 {
		t.Fatalf("unmetered rows = %d, want 0 after settle", got)
	}
}

func TestRollupMonthEndForgivesRemainder(t *testing.T) {
	db := setupMeteringTestDB(t)
	user := createPaidUser(t, db, "closeout@example.com")
	owner := domain.UserOwner(user.ID)

	createUsage(t, db, owner, "0.3", monthEnd.Add(-time.Hour))

	reporter := &fakeReporter{}
	meter := NewMeter(reporter).WithClock(fixedClock(monthEnd))

	if _, err := meter.RollupAndMeter(context.Background()); err != nil {
		t.Fatalf("rollup: %v", err)
	}

	if len(reporter.calls) != 0 {
		t.Fatalf("forgiven remainder reported: %+v", reporter.calls)
	}
	if got := unmeteredCount(t, db, owner); got != 0 {
		t.Fatalf("unmetered rows = %d, want 0 after close-out", got)
	}
}

func TestRollupSkipsFreePlanOwner(t *testing.T) {
	db := setupMeteringTestDB(t)

	free := domain.User{Email: "free@example.com", BillingPlan: domain.PlanFree}
	if err := db.Create(&free).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	owner := domain.UserOwner(free.ID)

	createUsage(t, db, owner, "5.0", midMonth)

	reporter := &fakeReporter{}
	meter := NewMeter(reporter).WithClock(fixedClock(midMonth))

	stats, err := meter.RollupAndMeter(context.Background())
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}

	if len(reporter.calls) != 0 {
		t.Fatalf("free-plan usage reported: %+v", reporter.calls)
	}
	if stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want 1 skipped", stats)
	}
	if got := unmeteredCount(t, db, owner); got != 1 {
		t.Fatalf("unmetered rows = %d, want 1 left in place", got)
	}
}

func TestRollupIsolatesOwnerFailures(t *testing.T) {
	db := setupMeteringTestDB(t)

	broken := createPaidUser(t, db, "broken@example.com")
	healthy := createPaidUser(t, db, "healthy@example.com")
	brokenOwner := domain.UserOwner(broken.ID)
	healthyOwner := domain.UserOwner(healthy.ID)

	createUsage(t, db, brokenOwner, "2.0", midMonth)
	createUsage(t, db, healthyOwner, "3.0", midMonth)

	reporter := &fakeReporter{failOwners: map[string]bool{brokenOwner.Key(): true}}
	meter := NewMeter(reporter).WithClock(fixedClock(midMonth))

	stats, err := meter.RollupAndMeter(context.Background())
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if stats.Errors != 1 || stats.Reported != 1 {
		t.Fatalf("stats = %+v, want 1 error and 1 reported", stats)
	}

	if got := unmeteredCount(t, db, brokenOwner); got != 1 {
		t.Fatalf("failed owner's rows = %d unmetered, want 1", got)
	}
	if got := unmeteredCount(t, db, healthyOwner); got != 0 {
		t.Fatalf("healthy owner's rows = %d unmetered, want 0", got)
	}
}

func TestRollupRetryReusesIdempotencyKey(t *testing.T) {
	db := setupMeteringTestDB(t)
	user := createPaidUser(t, db, "retry@example.com")
	owner := domain.UserOwner(user.ID)

	createUsage(t, db, owner, "1.5", midMonth)

	reporter := &fakeReporter{failOwners: map[string]bool{owner.Key(): true}}
	meter := NewMeter(reporter).WithClock(fixedClock(midMonth))

	if _, err := meter.RollupAndMeter(context.Background()); err != nil {
		t.Fatalf("first rollup: %v", err)
	}

	// Billing recovers; the retry must present the same key.
	reporter.failOwners = nil
	if _, err := meter.RollupAndMeter(context.Background()); err != nil {
		t.Fatalf("second rollup: %v", err)
	}

	if len(reporter.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(reporter.calls))
	}
	if reporter.calls[0].key != reporter.calls[1].key {
		t.Fatalf("retry changed idempotency key: %q vs %q", reporter.calls[0].key, reporter.calls[1].key)
	}
	if reporter.calls[1].quantity != 2 {
		t.Fatalf("reported quantity = %d, want 2", reporter.calls[1].quantity)
	}
}

func TestLastDayOfMonth(t *testing.T) {
	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, time.February, 28, 10, 0, 0, 0, time.UTC), true},
		{time.Date(2028, time.February, 28, 10, 0, 0, 0, time.UTC), false},
		{time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2026, time.March, 30, 23, 59, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		if got := lastDayOfMonth(tc.at); got != tc.want {
			t.Fatalf("lastDayOfMonth(%s) = %v, want %v", tc.at, got, tc.want)
		}
	}
}
