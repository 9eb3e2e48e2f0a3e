package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/propfeed/listings/pkg/metrics"
	"github.com/propfeed/listings/pkg/tracing"
)

// FetcherConfig holds the upstream feed settings
type FetcherConfig struct {
	BaseURL string
	Path    string
	Timeout time.Duration
}

// Fetcher retrieves the property snapshot from the upstream feed. Transport
// and parse failures surface unmodified; there is no retry at this layer.
type Fetcher struct {
	client  *http.Client
	baseURL string
	path    string
	logger  ectologger.Logger
}

// NewFetcher creates a new snapshot fetcher
func NewFetcher(cfg FetcherConfig, logger ectologger.Logger) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		path:    cfg.Path,
		logger:  logger,
	}
}

// snapshotEnvelope mirrors the upstream response shape; the property records
// live under outlets.availability.results.
type snapshotEnvelope struct {
	Outlets struct {
		Availability struct {
			Results []map[string]any `json:"results"`
		} `json:"availability"`
	} `json:"outlets"`
}

// Fetch GETs the configured feed endpoint and returns its property records.
func (f *Fetcher) Fetch(ctx context.Context) ([]map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "refresh.Fetcher.Fetch")
	defer span.End()

	url := f.baseURL + f.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues("error").Inc()
		f.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"url": url}).Error("Upstream fetch failed")
		return nil, fmt.Errorf("upstream fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.FetchRequestsTotal.WithLabelValues("error").Inc()
		f.logger.WithContext(ctx).WithFields(map[string]any{"url": url, "status": resp.StatusCode}).Error("Upstream returned non-OK status")
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var envelope snapshotEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		metrics.FetchRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to decode upstream snapshot: %w", err)
	}

	metrics.FetchRequestsTotal.WithLabelValues("success").Inc()
	return envelope.Outlets.Availability.Results, nil
}
