// Package opensearch adapts the OpenSearch client to the search
// core's FullTextEngine interface.
package opensearch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
)

// Config holds the connection settings for the full-text cluster.
type Config struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string
	Timeout     time.Duration
}

// SearchDoer is the minimal client surface the engine needs. It exists
// so tests can substitute a fake for the real cluster.
type SearchDoer interface {
	Search(ctx context.Context, index string, body []byte) (*SearchResponse, error)
}

// SearchResponse is the subset of the engine's reply the core consumes.
type SearchResponse struct {
	Total int64
	Hits  []Hit
}

// Hit is one matched document.
type Hit struct {
	ID string
}

type apiClient struct {
	client *opensearchapi.Client
}

// NewClient connects to the cluster and returns a SearchDoer.
func NewClient(cfg Config) (SearchDoer, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("opensearch: at least one address is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch: create client: %w", err)
	}

	return &apiClient{client: client}, nil
}

func (c *apiClient) Search(ctx context.Context, index string, body []byte) (*SearchResponse, error) {
	req := opensearchapi.SearchReq{
		Indices: []string{index},
		Body:    bytes.NewReader(body),
	}

	resp, err := c.client.Search(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("opensearch: execute search: %w", err)
	}
	if resp.Errors {
		return nil, fmt.Errorf("opensearch: search returned errors")
	}

	result := &SearchResponse{
		Total: int64(resp.Hits.Total.Value),
		Hits:  make([]Hit, len(resp.Hits.Hits)),
	}
	for i, hit := range resp.Hits.Hits {
		result.Hits[i] = Hit{ID: hit.ID}
	}
	return result, nil
}
