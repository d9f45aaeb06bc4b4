package access

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPFetcher retrieves clinical resources from the upstream data store over
// HTTP. The gate is the only caller.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPFetcher) FetchResource(ctx context.Context, resourceType, resourceID string) (interface{}, error) {
	u := fmt.Sprintf("%s/%s/%s", f.baseURL, url.PathEscape(resourceType), url.PathEscape(resourceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("clinical store returned %d for %s/%s", resp.StatusCode, resourceType, resourceID)
	}

	var payload interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode clinical resource: %w", err)
	}
	return payload, nil
}
