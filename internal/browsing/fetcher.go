package browsing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPImageFetcher downloads images referenced by a page so they can be
// scored. data: URLs are decoded in place.
type HTTPImageFetcher struct {
	client   *retryablehttp.Client
	maxBytes int64
}

func NewHTTPImageFetcher(timeout time.Duration, maxBytes int64, log *slog.Logger) *HTTPImageFetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	if log != nil {
		client.Logger = log.With("component", "image_fetcher")
	} else {
		client.Logger = nil
	}
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &HTTPImageFetcher{client: client, maxBytes: maxBytes}
}

// Fetch resolves ref against pageURL and returns the image bytes.
func (f *HTTPImageFetcher) Fetch(ctx context.Context, pageURL, ref string) ([]byte, error) {
	if strings.HasPrefix(strings.ToLower(ref), "data:") {
		return decodeDataURL(ref)
	}
	target, err := resolve(pageURL, ref)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	req.Header.Set("Accept", "image/*")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image %s: status %d", target, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", target, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("image %s larger than %d bytes", target, f.maxBytes)
	}
	return data, nil
}

func resolve(pageURL, ref string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("page url: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("image ref: %w", err)
	}
	u := base.ResolveReference(r)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("image ref %q: unsupported scheme", ref)
	}
	return u.String(), nil
}

func decodeDataURL(ref string) ([]byte, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, errors.New("data url without payload")
	}
	meta, payload := ref[len("data:"):comma], ref[comma+1:]
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("data url: %w", err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("data url: %w", err)
	}
	return []byte(s), nil
}
