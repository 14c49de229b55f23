// Package fetcher performs size- and timeout-bounded HTTP GETs of source
// media URLs.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"mediaproxy/internal/apperr"
	"mediaproxy/internal/version"
)

// Fetcher issues bounded GET requests against source URLs.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	timeout   time.Duration
	userAgent string
}

// New builds a Fetcher with the given total timeout and maximum response
// body size.
func New(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes:  maxBytes,
		timeout:   timeout,
		userAgent: version.Identifier(),
	}
}

// Fetch performs the bounded GET, returning the response body or a typed
// apperr.Error (Upstream / TooLarge / Timeout, or BadRequest when the
// request cannot be built from sourceURL).
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "build request", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.Timeout, "fetch timed out", err)
		}
		return nil, apperr.Wrap(apperr.Upstream, "fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.New(apperr.Upstream, fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}

	if resp.ContentLength > 0 && resp.ContentLength > f.maxBytes {
		return nil, apperr.New(apperr.TooLarge, fmt.Sprintf("content-length %d exceeds cap %d", resp.ContentLength, f.maxBytes))
	}

	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.Timeout, "fetch timed out while reading body", err)
		}
		return nil, apperr.Wrap(apperr.Upstream, "read body failed", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, apperr.New(apperr.TooLarge, fmt.Sprintf("body exceeded cap %d bytes", f.maxBytes))
	}

	return body, nil
}
