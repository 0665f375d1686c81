// Package decodo talks to the provider's IP-information endpoint. Requests
// are issued through the proxy under inspection, so the response describes
// the egress IP the provider assigned to that port.
package decodo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"poolwarden/internal/domain"
	"poolwarden/internal/support"
)

const DefaultTimeout = 30 * time.Second

// IPInfo mirrors the provider's JSON document. Fields the provider omits
// stay at their zero value; a missing field is never an error.
type IPInfo struct {
	Proxy struct {
		IP string `json:"ip"`
	} `json:"proxy"`

	ISP struct {
		ISP          string `json:"isp"`
		ASN          json.Number `json:"asn"`
		Domain       string `json:"domain"`
		Organization string `json:"organization"`
	} `json:"isp"`

	City struct {
		Name      string  `json:"name"`
		Code      string  `json:"code"`
		State     string  `json:"state"`
		TimeZone  string  `json:"time_zone"`
		ZipCode   string  `json:"zip_code"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"city"`

	Country struct {
		Code      string `json:"code"`
		Name      string `json:"name"`
		Continent string `json:"continent"`
	} `json:"country"`
}

type Client struct {
	endpointURL string
	timeout     time.Duration
}

func NewClient(endpointURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{endpointURL: endpointURL, timeout: timeout}
}

// Lookup fetches the IP document through the given proxy.
func (client *Client) Lookup(ctx context.Context, through domain.ProxyServer) (*IPInfo, error) {
	transport, err := support.CreateProxyTransport(through, support.ProxyProtocolHTTP, client.timeout)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	defer transport.CloseIdleConnections()

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   client.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.endpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Connection", "close")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ip info via %s: %w", through.Address(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ip info via %s: unexpected status %d", through.Address(), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ip info body: %w", err)
	}

	var info IPInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode ip info: %w", err)
	}
	if info.Proxy.IP == "" {
		return nil, fmt.Errorf("ip info response missing proxy ip")
	}

	return &info, nil
}
