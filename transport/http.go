package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
)

// HTTPTransport POSTs batches as a JSON array to a fixed URL.
type HTTPTransport struct {
	url    string
	gzip   bool
	client *http.Client
}

// NewHTTPTransport builds a transport for url. timeout bounds each request
// end to end; gzipBody enables Content-Encoding: gzip on the request body.
func NewHTTPTransport(url string, timeout time.Duration, gzipBody bool) *HTTPTransport {
	return &HTTPTransport{
		url:    url,
		gzip:   gzipBody,
		client: &http.Client{Timeout: timeout},
	}
}

// Deliver sends payload and returns the response status. The response body
// is drained and discarded so the underlying connection can be reused.
func (t *HTTPTransport) Deliver(ctx context.Context, payload []byte, authorization string) (int, error) {
	body := payload
	if t.gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return 0, fmt.Errorf("transport: gzip: %w", err)
		}
		if err := zw.Close(); err != nil {
			return 0, fmt.Errorf("transport: gzip close: %w", err)
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization)
	if t.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("transport: post %s: %w", t.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	return resp.StatusCode, nil
}
