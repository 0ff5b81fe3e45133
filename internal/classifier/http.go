package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPBackend talks to model-serving endpoints that answer with
// [{"label":..,"score":..}] lists, such as Hugging Face inference servers.
type HTTPBackend struct {
	textURL  string
	imageURL string
	token    string
	client   *retryablehttp.Client
}

// HTTPConfig configures an HTTPBackend. Either URL may be empty, in which
// case that kind of call reports ErrUnavailable.
type HTTPConfig struct {
	TextURL  string
	ImageURL string
	Token    string
	RetryMax int
}

func NewHTTPBackend(cfg HTTPConfig, log *slog.Logger) *HTTPBackend {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	if log != nil {
		client.Logger = log.With("component", "classifier_http")
	} else {
		client.Logger = nil
	}
	return &HTTPBackend{
		textURL:  cfg.TextURL,
		imageURL: cfg.ImageURL,
		token:    cfg.Token,
		client:   client,
	}
}

func (b *HTTPBackend) Name() string { return "http" }

func (b *HTTPBackend) ScoreText(ctx context.Context, text string) (Verdict, error) {
	body, _ := json.Marshal(map[string]string{"inputs": text})
	return b.post(ctx, b.textURL, "application/json", body)
}

func (b *HTTPBackend) ScoreImage(ctx context.Context, image []byte) (Verdict, error) {
	return b.post(ctx, b.imageURL, "application/octet-stream", image)
}

func (b *HTTPBackend) post(ctx context.Context, url, contentType string, body []byte) (Verdict, error) {
	if url == "" {
		return Verdict{}, fmt.Errorf("http classifier: no endpoint: %w", ErrUnavailable)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("http classifier request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("http classifier: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("http classifier read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("http classifier status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	v, ok := bestLabel(string(data))
	if !ok {
		return Verdict{}, fmt.Errorf("http classifier: no labels in response: %w", ErrUnavailable)
	}
	return v, nil
}
