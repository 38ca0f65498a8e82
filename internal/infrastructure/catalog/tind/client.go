// Package tind is the metadata client for the TIND digital collections API.
package tind

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/config"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/pkg/metrics"
)

var tracer = otel.Tracer("tind")

const (
	DefaultBaseURL   = "https://digicoll.lib.berkeley.edu/api/v1"
	DefaultRecordURL = "https://digicoll.lib.berkeley.edu/record"
	defaultTimeout   = 30 * time.Second
	maxBodyBytes     = 8 << 20
)

// ErrUnauthorized is returned when the API rejects the configured key.
var ErrUnauthorized = errors.New("tind: invalid or missing API key")

// Client fetches MARCXML records and maps them to catalog metadata.
type Client struct {
	baseURL    string
	recordURL  string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ catalog.Resolver = (*Client)(nil)

func NewClient(cfg *config.CatalogConfig, httpClient *http.Client) *Client {
	baseURL := DefaultBaseURL
	recordURL := DefaultRecordURL
	timeout := defaultTimeout
	var apiKey string
	rps, burst := 0.0, 1
	if cfg != nil {
		if v := strings.TrimSpace(cfg.BaseURL); v != "" {
			baseURL = v
		}
		if v := strings.TrimSpace(cfg.RecordURL); v != "" {
			recordURL = v
		}
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		apiKey = strings.TrimSpace(cfg.APIKey)
		rps = cfg.RequestsPerSecond
		if cfg.Burst > 0 {
			burst = cfg.Burst
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		recordURL:  recordURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// RecordURL returns the public catalogue page of a record.
func (c *Client) RecordURL(documentID string) string {
	return strings.TrimRight(c.recordURL, "/") + "/" + url.PathEscape(strings.TrimSpace(documentID))
}

// Resolve implements catalog.Resolver.
func (c *Client) Resolve(ctx context.Context, documentID string) (*entity.Metadata, error) {
	documentID = strings.TrimSpace(documentID)

	ctx, span := tracer.Start(ctx, "tind.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("tind.record_id", documentID))

	md, err := c.resolve(ctx, documentID)
	status := "ok"
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	metrics.CatalogLookupTotal.WithLabelValues("remote", status).Inc()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return md, nil
}

func (c *Client) resolve(ctx context.Context, documentID string) (*entity.Metadata, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: empty record id", catalog.ErrNotFound)
	}

	status, body, err := c.get(ctx, "record/"+url.PathEscape(documentID)+"/", url.Values{"of": {"xm"}})
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", catalog.ErrMetadataUnavailable, documentID, err)
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: record %s", catalog.ErrNotFound, documentID)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: record %s: unexpected status %d", catalog.ErrMetadataUnavailable, documentID, status)
	}
	return c.ParseRecord(documentID, body)
}

// ParseRecord turns a MARCXML export of one record into citation metadata,
// the same way Resolve does for records fetched from the API.
func (c *Client) ParseRecord(documentID string, marcxml []byte) (*entity.Metadata, error) {
	records, err := parseMARCXML(marcxml)
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", catalog.ErrMetadataUnavailable, documentID, err)
	}
	switch len(records) {
	case 0:
		return nil, fmt.Errorf("%w: record %s", catalog.ErrNotFound, documentID)
	case 1:
	default:
		return nil, fmt.Errorf("%w: record %s matched %d records", catalog.ErrNotFound, documentID, len(records))
	}

	md := records[0].toMetadata(documentID, c.recordURL)
	if err := catalog.Validate(&md); err != nil {
		return nil, err
	}
	return &md, nil
}

// FetchRaw returns the MARCXML document of a record.
func (c *Client) FetchRaw(ctx context.Context, documentID string) ([]byte, error) {
	status, body, err := c.get(ctx, "record/"+url.PathEscape(strings.TrimSpace(documentID))+"/", url.Values{"of": {"xm"}})
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: record %s", catalog.ErrNotFound, documentID)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("tind: unexpected status %d", status)
	}
	return body, nil
}

// get performs an authenticated GET. 401 and 5xx are returned as errors;
// every other status is handed back to the caller.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (int, []byte, error) {
	if c.apiKey == "" {
		return 0, nil, ErrUnauthorized
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, nil, ErrUnauthorized
	}
	if resp.StatusCode >= 500 {
		return resp.StatusCode, nil, fmt.Errorf("tind server error: %s", resp.Status)
	}
	return resp.StatusCode, body, nil
}
