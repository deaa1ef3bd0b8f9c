package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/metrics"
)

// userAgent identifies this service on webhook requests. The version part is
// set from the build at startup.
var userAgent = "rate-limiter-service/dev"

// SetUserAgentVersion stamps the binary version into the delivery user agent.
func SetUserAgentVersion(version string) {
	userAgent = "rate-limiter-service/" + version
}

// Deliverer POSTs payloads to webhook receivers. One instance is shared by
// all pool workers.
type Deliverer struct {
	client *http.Client
	secret string
}

// NewDeliverer builds a Deliverer with a timeout-bounded HTTP client. When
// secret is non-empty every request carries an HMAC-SHA256 signature header.
func NewDeliverer(timeout time.Duration, secret string) *Deliverer {
	// Based on http.DefaultTransport settings, trimmed for a client that
	// talks to many distinct receiver hosts.
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Deliverer{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		secret: secret,
	}
}

// Deliver POSTs payload to url as JSON. Success is any status in [200,300).
// The signature is computed over the exact serialized body bytes.
func (d *Deliverer) Deliver(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if d.secret != "" {
		req.Header.Set(SignatureHeader, Sign(d.secret, body))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}
	return nil
}
