// ABOUTME: HTTP client for the remote vulnerability oracle.
// ABOUTME: Issues one bounded lookup per product/version and classifies every result as an outcome.

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = 5 * time.Second

	productsPath = "/v1/vuln/products/"
	maxBodyBytes = 10 << 20 // 10 MB
)

var ErrInvalidConfig = errors.New("invalid oracle configuration")

// Config holds the oracle connection settings
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration // per request, DefaultTimeout when zero
}

// Client queries the oracle. It keeps no state between lookups.
type Client struct {
	baseURL    url.URL
	timeout    time.Duration
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new oracle client
func NewClient(config Config, logger *logrus.Logger) (*Client, error) {
	host := strings.TrimSpace(config.Host)
	if host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if config.Port < 1 || config.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, config.Port)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: url.URL{
			Scheme: "http",
			Host:   net.JoinHostPort(host, strconv.Itoa(config.Port)),
		},
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

// Name returns the vulnerability source name
func (c *Client) Name() string {
	return "oracle"
}

// NormalizeProduct turns a package name into the oracle's space separated form
func NormalizeProduct(product string) string {
	p := strings.NewReplacer("-", " ", "_", " ").Replace(product)
	return strings.ToLower(strings.TrimSpace(p))
}

// QueryKey returns "product" or "product/version" for the normalized product
func QueryKey(product, version string) string {
	p := NormalizeProduct(product)
	if version == "" {
		return p
	}
	return p + "/" + version
}

func (c *Client) productURL(product, version string) string {
	u := c.baseURL
	p := NormalizeProduct(product)
	u.Path = productsPath + p
	u.RawPath = productsPath + url.PathEscape(p)
	if version != "" {
		u.Path += "/" + version
		u.RawPath += "/" + url.PathEscape(version)
	}
	return u.String()
}

// Lookup queries the oracle once for product/version. It never retries.
func (c *Client) Lookup(ctx context.Context, product, version string) types.LookupOutcome {
	logger := c.logger.WithFields(logrus.Fields{
		"product": product,
		"version": version,
		"query":   QueryKey(product, version),
	})

	start := time.Now()
	outcome := c.lookup(ctx, product, version)
	duration := time.Since(start)
	recordLookup(outcome, duration)

	entry := logger.WithFields(logrus.Fields{
		"status":   outcome.Status,
		"duration": duration,
	})
	if outcome.IsFailed() {
		entry.WithField("reason", outcome.Reason).WithField("detail", outcome.Detail).Warn("Oracle lookup failed")
	} else {
		entry.WithField("records", len(outcome.Records)).Debug("Oracle lookup completed")
	}

	return outcome
}

func (c *Client) lookup(ctx context.Context, product, version string) types.LookupOutcome {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.productURL(product, version), nil)
	if err != nil {
		return types.LookupFailed(types.ReasonUnreachable, err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(reqCtx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The oracle answers 404 for products it has no vulnerabilities for
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return types.Clean()
	case resp.StatusCode >= 500:
		return types.LookupFailed(types.ReasonUnreachable, fmt.Sprintf("oracle returned status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return types.LookupFailed(types.ReasonMalformedResponse, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return classifyTransportError(reqCtx, err)
	}

	records, err := ParseRecords(body)
	if err != nil {
		return types.LookupFailed(types.ReasonMalformedResponse, err.Error())
	}

	return types.Vulnerable(records)
}

func classifyTransportError(reqCtx context.Context, err error) types.LookupOutcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || reqCtx.Err() != nil {
		return types.LookupFailed(types.ReasonTimeout, err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.LookupFailed(types.ReasonTimeout, err.Error())
	}

	return types.LookupFailed(types.ReasonUnreachable, err.Error())
}

// ParseRecords decodes an oracle payload: a JSON array of single-key objects
// mapping a vulnerability identifier to its fields.
func ParseRecords(body []byte) ([]types.VulnerabilityRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("response is not a JSON array")
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	records := make([]types.VulnerabilityRecord, 0, len(elements))
	for i, element := range elements {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(element, &entry); err != nil || len(entry) != 1 {
			return nil, fmt.Errorf("element %d: expected an object with a single identifier key", i)
		}

		for id, raw := range entry {
			if strings.TrimSpace(id) == "" {
				return nil, fmt.Errorf("element %d: empty identifier", i)
			}

			var fields map[string]any
			if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
				return nil, fmt.Errorf("element %d (%s): fields must be an object", i, id)
			}

			records = append(records, types.VulnerabilityRecord{
				ID:     id,
				Kind:   types.KindForIdentifier(id),
				Fields: fields,
			})
		}
	}

	return records, nil
}
