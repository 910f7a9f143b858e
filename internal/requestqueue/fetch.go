package requestqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	apperrors "github.com/jrjohn/arcana-request-queue/pkg/errors"
)

// FetchRequest describes an HTTP call made through QueuedFetch
type FetchRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Key overrides the cache and dedup key derived from method, URL and body.
	Key string
}

// FetchKey is the default key for an HTTP call
func FetchKey(method, url string, body []byte) string {
	if method == "" {
		method = http.MethodGet
	}
	return method + ":" + url + ":" + string(body)
}

// QueuedFetch performs an HTTP request through q and decodes the JSON response into T.
// Non-2xx responses fail with an *errors.AppError carrying the status, which
// drives retry classification.
func QueuedFetch[T any](ctx context.Context, q *Queue, client *http.Client, req FetchRequest, opts ...Option) (T, error) {
	if client == nil {
		client = http.DefaultClient
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	key := req.Key
	if key == "" {
		key = FetchKey(method, req.URL, req.Body)
	}

	return Enqueue(ctx, q, key, func(ctx context.Context) (T, error) {
		return fetchJSON[T](ctx, client, method, req)
	}, opts...)
}

func fetchJSON[T any](ctx context.Context, client *http.Client, method string, req FetchRequest) (T, error) {
	var out T

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return out, apperrors.Wrap(err, apperrors.ErrBadRequest)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return out, apperrors.NewHTTPError(resp.StatusCode, method, req.URL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read %s %s: %w", method, req.URL, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := sonic.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s %s: %w", method, req.URL, err)
	}
	return out, nil
}
