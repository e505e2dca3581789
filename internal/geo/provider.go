// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package geo enriches network addresses with geolocation and anonymizer
// flags. A Resolver fronts the external lookup capability with a TTL cache
// so repeated observations of the same address within the window cost no
// external call. Lookup failures are surfaced and never cached, so a
// transient provider outage cannot permanently disable enrichment for an
// address.
package geo

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/garrison/internal/models"
)

// Provider is the external geolocation lookup capability.
type Provider interface {
	// Lookup returns geolocation data for the given address, or an error
	// when the lookup fails or the address is invalid.
	Lookup(ctx context.Context, address string) (*models.Geolocation, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// HTTPProvider queries an ipgeolocation.io-style JSON endpoint. Outbound
// calls are rate limited client-side and wrapped in a circuit breaker so a
// struggling provider is not hammered by a busy server.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*models.Geolocation]
}

// lookupResponse is the provider's JSON payload. Only the fields Garrison
// normalizes are declared; the full body is kept as the raw snapshot.
type lookupResponse struct {
	CountryName string `json:"country_name"`
	ISP         string `json:"isp"`
	Security    struct {
		IsVPN   bool `json:"is_vpn"`
		IsProxy bool `json:"is_proxy"`
	} `json:"security"`
	Message string `json:"message,omitempty"`
}

// NewHTTPProvider creates a provider for the given endpoint and API key.
// requestsPerMinute bounds the outbound call rate.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration, requestsPerMinute int) *HTTPProvider {
	settings := gobreaker.Settings{
		Name:     "geo-lookup",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
		breaker: gobreaker.NewCircuitBreaker[*models.Geolocation](settings),
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string {
	return "ipgeolocation"
}

// Lookup queries the endpoint for one address. The call waits for rate
// limiter headroom (subject to ctx) and goes through the circuit breaker.
func (p *HTTPProvider) Lookup(ctx context.Context, address string) (*models.Geolocation, error) {
	if ip := net.ParseIP(address); ip == nil {
		return nil, fmt.Errorf("invalid address: %s", address)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	return p.breaker.Execute(func() (*models.Geolocation, error) {
		return p.query(ctx, address)
	})
}

func (p *HTTPProvider) query(ctx context.Context, address string) (*models.Geolocation, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("apiKey", p.apiKey)
	q.Set("ip", address)
	q.Set("fields", "country_name,isp")
	q.Set("include", "security")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query geolocation provider: %w", err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	var body lookupResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if body.Message != "" {
			return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, body.Message)
		}
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	return &models.Geolocation{
		Address:   address,
		Country:   body.CountryName,
		ISP:       body.ISP,
		IsVPN:     body.Security.IsVPN,
		IsProxy:   body.Security.IsProxy,
		Raw:       raw,
		FetchedAt: time.Now().UTC(),
	}, nil
}
