package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"poolwarden/internal/domain"
)

func TestReportUsageSendsPayloadAndKey(t *testing.T) {
	var gotKey string
	var gotPayload usageReportPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/usage_records" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.ReportUsage(context.Background(), domain.UserOwner(42), 3, "key-123")
	if err != nil {
		t.Fatalf("report usage: %v", err)
	}

	if gotKey != "key-123" {
		t.Fatalf("idempotency key = %q", gotKey)
	}
	if gotPayload.OwnerType != "user" || gotPayload.OwnerID != 42 || gotPayload.Quantity != 3 {
		t.Fatalf("payload = %+v", gotPayload)
	}
}

func TestReportUsageOrganizationOwner(t *testing.T) {
	var gotPayload usageReportPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if err := client.ReportUsage(context.Background(), domain.OrganizationOwner(7), 1, "key"); err != nil {
		t.Fatalf("report usage: %v", err)
	}
	if gotPayload.OwnerType != "organization" || gotPayload.OwnerID != 7 {
		t.Fatalf("payload = %+v", gotPayload)
	}
}

func TestReportUsageSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "subscription not found", http.StatusConflict)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if err := client.ReportUsage(context.Background(), domain.UserOwner(1), 1, "key"); err == nil {
		t.Fatal("expected error from 409")
	}
}

func TestReportUsageRejectsInvalidOwner(t *testing.T) {
	client := NewClient("http://unused.example", "")
	if err := client.ReportUsage(context.Background(), domain.OwnerRef{}, 1, "key"); err == nil {
		t.Fatal("expected owner validation error")
	}
}

func TestIdempotencyKeyStable(t *testing.T) {
	periodStart := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	first := IdempotencyKey(domain.UserOwner(5), periodStart, 900)
	second := IdempotencyKey(domain.UserOwner(5), periodStart, 900)
	if first != second {
		t.Fatalf("same inputs produced different keys: %s vs %s", first, second)
	}

	differentRow := IdempotencyKey(domain.UserOwner(5), periodStart, 901)
	if first == differentRow {
		t.Fatal("different row set produced identical key")
	}

	differentOwner := IdempotencyKey(domain.OrganizationOwner(5), periodStart, 900)
	if first == differentOwner {
		t.Fatal("different owner produced identical key")
	}
}
