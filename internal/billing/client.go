// Package billing reports metered usage to the external billing API. Every
// report carries a deterministic idempotency key so a retried pass cannot
// double-charge an owner.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"poolwarden/internal/domain"

	"github.com/google/uuid"
)

const defaultRequestTimeout = 30 * time.Second

// idempotencyNamespace scopes generated keys to poolwarden usage reports.
var idempotencyNamespace = uuid.MustParse("7b9f4e46-1a52-4ff0-9f43-6c1d2ab0a9d1")

// UsageReporter is what the rollup meter needs from billing.
type UsageReporter interface {
	ReportUsage(ctx context.Context, owner domain.OwnerRef, quantity int64, idempotencyKey string) error
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

type usageReportPayload struct {
	OwnerType string `json:"owner_type"`
	OwnerID   uint   `json:"owner_id"`
	Quantity  int64  `json:"quantity"`
}

func (client *Client) ReportUsage(ctx context.Context, owner domain.OwnerRef, quantity int64, idempotencyKey string) error {
	if err := owner.Validate(); err != nil {
		return err
	}

	payload := usageReportPayload{Quantity: quantity}
	if owner.UserID != nil {
		payload.OwnerType = "user"
		payload.OwnerID = *owner.UserID
	} else {
		payload.OwnerType = "organization"
		payload.OwnerID = *owner.OrganizationID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal usage report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/v1/usage_records", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create usage report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if client.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+client.apiKey)
	}

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("report usage for %s: %w", owner.Key(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("report usage for %s: status %d: %s", owner.Key(), resp.StatusCode, detail)
	}

	return nil
}

// IdempotencyKey derives a stable key from the owner, billing period, and
// the newest contributing row. A retry over the same unmetered row set
// produces the same key; once rows are marked metered the set (and the key)
// changes.
func IdempotencyKey(owner domain.OwnerRef, periodStart time.Time, maxRowID uint64) string {
	seed := fmt.Sprintf("%s|%s|%d", owner.Key(), periodStart.UTC().Format(time.RFC3339), maxRowID)
	return uuid.NewSHA1(idempotencyNamespace, []byte(seed)).String()
}
