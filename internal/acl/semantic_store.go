package acl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agenthub-backend/internal/querycache"
)

// HTTPSemanticStore sends response text to the embedding service. The
// engine behind it is opaque: this layer only needs store(text) -> ok/err.
type HTTPSemanticStore struct {
	endpoint string
	client   *http.Client
}

var _ querycache.SemanticStore = (*HTTPSemanticStore)(nil)

func NewHTTPSemanticStore(endpoint string) *HTTPSemanticStore {
	return &HTTPSemanticStore{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSemanticStore) Store(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("semantic store returned status %d", resp.StatusCode)
	}
	return nil
}
