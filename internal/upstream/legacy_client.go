package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/nexdoc/dms-api/internal/models"
	"github.com/nexdoc/dms-api/pkg/config"
	appErrors "github.com/nexdoc/dms-api/pkg/errors"
)

// LegacyClient reads the legacy approval-request list API. The feed is
// best-effort: callers treat every failure here as a soft miss and continue
// with canonical data only.
type LegacyClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewLegacyClient constructs a client from config. Returns nil when the
// legacy source is disabled, which callers must tolerate.
func NewLegacyClient(cfg config.LegacyConfig, logger *zap.Logger) *LegacyClient {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &LegacyClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// FetchRequests returns the raw legacy rows for a document. All transport and
// decode failures come back wrapped as UPSTREAM_UNAVAILABLE.
func (c *LegacyClient) FetchRequests(ctx context.Context, documentID string) ([]models.LegacyApprovalRow, error) {
	if c == nil {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, "legacy source disabled")
	}

	endpoint := fmt.Sprintf("%s/api/approval-requests?documentId=%s", c.baseURL, url.QueryEscape(documentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "build legacy request")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("legacy fetch failed",
			zap.String("document_id", documentID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "legacy source unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// The legacy API reports unknown documents as 404; that just means
		// no rows, not an outage.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable,
			fmt.Sprintf("legacy source returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "read legacy response")
	}

	var rows []models.LegacyApprovalRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "decode legacy response")
	}

	return rows, nil
}
