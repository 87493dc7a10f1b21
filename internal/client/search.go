package client

import (
	"context"

	"github.com/kozaktomas/photo-jobs/internal/config"
)

// SearchResult is one smart search match.
type SearchResult struct {
	AssetID  string  `json:"assetId"`
	Distance float64 `json:"distance"`
}

type smartSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SmartSearch ranks assets by similarity to a text query.
func (c *Client) SmartSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	result, err := doPostJSON[[]SearchResult](ctx, c, "search/smart", smartSearchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// SystemConfig returns the live system configuration.
func (c *Client) SystemConfig(ctx context.Context) (*config.SystemConfig, error) {
	return doGetJSON[config.SystemConfig](ctx, c, "system-config")
}

// UpdateSystemConfig replaces the system configuration and returns the stored result.
func (c *Client) UpdateSystemConfig(ctx context.Context, cfg *config.SystemConfig) (*config.SystemConfig, error) {
	return doPutJSON[config.SystemConfig](ctx, c, "system-config", cfg)
}
