package health

import (
	"context"
	"testing"
	"time"

	"poolwarden/internal/domain"
)

func TestSampleSize(t *testing.T) {
	cases := []struct {
		name     string
		eligible int
		want     int
	}{
		{"large pool hits ceiling", 10000, 1000},
		{"small pool hits floor", 100, 50},
		{"tiny pool capped at available", 20, 20},
		{"mid pool scales by fraction", 2000, 400},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sampleSize(tc.eligible, 0.2, 50, 1000); got != tc.want {
				t.Fatalf("sampleSize(%d) = %d, want %d", tc.eligible, got, tc.want)
			}
		})
	}
}

func TestNightlyHealthCheckProbesDueProxies(t *testing.T) {
	db := setupHealthTestDB(t)
	createEnabledSpec(t, db)

	for port := uint16(10000); port < 10003; port++ {
		createHealthTestProxy(t, db, port)
	}

	// Already checked recently; must be left out of the batch.
	fresh := createHealthTestProxy(t, db, 10010)
	now := time.Now()
	if err := db.Model(&domain.ProxyServer{}).
		Where("id = ?", fresh.ID).
		Update("last_checked_at", now).Error; err != nil {
		t.Fatalf("stamp fresh proxy: %v", err)
	}

	runner := &fakeRunner{status: completedStatus(true)}
	checker := NewChecker(runner, NewPolicy(3), time.Minute)

	stats, err := checker.NightlyHealthCheck(context.Background())
	if err != nil {
		t.Fatalf("nightly check: %v", err)
	}
	if stats.Eligible != 3 || stats.Sampled != 3 {
		t.Fatalf("stats = %+v, want 3 eligible and 3 sampled", stats)
	}
	if stats.Passed != 3 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want 3 passed", stats)
	}

	var rows int64
	db.Model(&domain.HealthCheckResult{}).Count(&rows)
	if rows != 3 {
		t.Fatalf("result rows = %d, want 3", rows)
	}
}

func TestNightlyHealthCheckTalliesFailures(t *testing.T) {
	db := setupHealthTestDB(t)
	createEnabledSpec(t, db)
	createHealthTestProxy(t, db, 10000)
	createHealthTestProxy(t, db, 10001)

	runner := &fakeRunner{status: completedStatus(false)}
	checker := NewChecker(runner, NewPolicy(3), time.Minute)

	stats, err := checker.NightlyHealthCheck(context.Background())
	if err != nil {
		t.Fatalf("nightly check: %v", err)
	}
	if stats.Passed != 0 || stats.Failed != 2 {
		t.Fatalf("stats = %+v, want 2 failed", stats)
	}
}

func TestNightlyHealthCheckStopsOnCancel(t *testing.T) {
	db := setupHealthTestDB(t)
	createEnabledSpec(t, db)
	createHealthTestProxy(t, db, 10000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{status: completedStatus(true)}
	checker := NewChecker(runner, NewPolicy(3), time.Minute)

	stats, err := checker.NightlyHealthCheck(ctx)
	if err == nil {
		t.Fatal("cancelled batch returned no error")
	}
	if stats.Passed != 0 || stats.Failed != 0 {
		t.Fatalf("cancelled batch still probed proxies: %+v", stats)
	}
}
