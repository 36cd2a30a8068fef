package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
)

// HTTPClient calls a document-intelligence service over its REST analyze
// endpoint. The call is bounded by the client timeout; a timeout surfaces
// as a transient error and the triggering event redelivers.
type HTTPClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewHTTPClient creates a client for the extraction service.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	DocumentRef  string `json:"document_ref"`
	DocumentType string `json:"document_type"`
}

func (c *HTTPClient) Extract(ctx context.Context, documentRef string, docType domain.DocumentType) (*Result, error) {
	body, err := json.Marshal(analyzeRequest{
		DocumentRef:  documentRef,
		DocumentType: string(docType),
	})
	if err != nil {
		return nil, fmt.Errorf("extract: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extract: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract: analyze %s: %w", documentRef, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extract: analyze %s: unexpected status %d", documentRef, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("extract: decode result: %w", err)
	}
	return &result, nil
}
