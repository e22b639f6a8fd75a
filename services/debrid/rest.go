package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
)

// restClient is the transport shared by all adapters. Each adapter supplies
// its base URL and an authorize hook (bearer header or query parameter); the
// rest of the request lifecycle is identical across providers.
type restClient struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	authorize  func(*http.Request)
}

func newRESTClient(provider, baseURL string, authorize func(*http.Request)) *restClient {
	return &restClient{
		provider:   provider,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		authorize:  authorize,
	}
}

func (c *restClient) url(path string, query url.Values) string {
	if len(query) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + query.Encode()
}

// getJSON performs a GET and decodes the JSON body into out. Transport
// failures and 5xx responses are retried; provider errors are not.
func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, query), nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
			}
			return c.do(req, out)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var pe *ProviderError
			if errors.As(err, &pe) {
				return pe.StatusCode >= 500
			}
			return true
		}),
	)
}

// postForm performs a form-encoded POST and decodes the JSON body into out.
// Writes are never retried.
func (c *restClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path, nil), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

// delete performs a DELETE request. Providers answer deletes with 204 or an
// empty body, so nothing is decoded.
func (c *restClient) delete(ctx context.Context, path string, query url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url(path, query), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, nil)
}

func (c *restClient) do(req *http.Request, out any) error {
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Message:    truncateBody(body),
		}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body: %s)", c.provider, err, truncateBody(body))
	}
	return nil
}

func truncateBody(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
