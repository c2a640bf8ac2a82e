// Package acl holds thin adapters for external collaborators: the
// GraphQL-style query tool and the semantic/embedding store. Both are
// opaque network calls behind small interfaces; their internals are not
// this layer's concern.
package acl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agenthub-backend/internal/querycache"
)

const defaultRequestTimeout = 30 * time.Second

// GraphQLOrigin performs the real request against the external query tool.
type GraphQLOrigin struct {
	endpoint string
	client   *http.Client
}

var _ querycache.Origin = (*GraphQLOrigin)(nil)

func NewGraphQLOrigin(endpoint string) *GraphQLOrigin {
	return &GraphQLOrigin{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultRequestTimeout},
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Execute posts the query and returns the raw response body. The caller
// owns retry and caching decisions.
func (o *GraphQLOrigin) Execute(ctx context.Context, query string, variables map[string]any) ([]byte, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query origin returned status %d", resp.StatusCode)
	}
	return data, nil
}
