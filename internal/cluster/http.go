package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	URL  string
	Code int
}

// Error includes the URL and the status code.
func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s: %d", e.URL, e.Code)
}

var httpClient = newHTTPClient(3, 5*time.Second)

func newHTTPClient(retries int, timeout time.Duration) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 50 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	// Hand the last response back instead of a generic "giving up" error so
	// the status code stays visible to callers.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc.StandardClient()
}

// PostJSON sends body as JSON and decodes the response into out.
//
// Parameters:
//   - ctx: Bounds the whole exchange, including retries
//   - url: Full endpoint URL
//   - body: Value to encode, may be nil
//   - out: Destination for the response, nil to discard it
//
// Error handling:
//   - Connection errors and 5xx responses are retried by the shared client
//   - Other non-2xx responses return a *StatusError
//
// Example:
//
//	var resp JoinResponse
//	err := cluster.PostJSON(ctx, host+"/join", JoinRequest{Addr: addr}, &resp)
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return doJSON(ctx, http.MethodPost, url, body, out)
}

// PutJSON is PostJSON with the PUT method.
func PutJSON(ctx context.Context, url string, body any, out any) error {
	return doJSON(ctx, http.MethodPut, url, body, out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	return doJSON(ctx, http.MethodGet, url, nil, out)
}

// DeleteJSON sends a DELETE and discards the response body.
func DeleteJSON(ctx context.Context, url string) error {
	return doJSON(ctx, http.MethodDelete, url, nil, nil)
}

func doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
