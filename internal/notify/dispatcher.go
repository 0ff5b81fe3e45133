package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Safebrowse-Signature"

// Dispatcher posts alerts to one webhook from a background loop.
type Dispatcher struct {
	url        string
	secret     string
	httpClient *retryablehttp.Client
	deliveries chan Alert
	wg         sync.WaitGroup
	closeOnce  sync.Once
	log        *slog.Logger
}

func NewDispatcher(url, secret string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	d := &Dispatcher{
		url:        url,
		secret:     secret,
		httpClient: client,
		deliveries: make(chan Alert, 256),
		log:        log.With("component", "notify"),
	}
	d.wg.Add(1)
	go d.processLoop()
	return d
}

// Notify queues a for delivery. A full queue drops the alert.
func (d *Dispatcher) Notify(_ context.Context, a Alert) error {
	a.fill()
	select {
	case d.deliveries <- a:
		return nil
	default:
		d.log.Warn("alert queue full, dropping", "alert_id", a.ID, "kind", a.Kind, "url", a.URL)
		return fmt.Errorf("alert queue full")
	}
}

// Close stops accepting alerts and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.deliveries) })
	d.wg.Wait()
}

func (d *Dispatcher) processLoop() {
	defer d.wg.Done()
	for a := range d.deliveries {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := d.Deliver(ctx, a); err != nil {
			d.log.Error("alert delivery failed", "alert_id", a.ID, "url", a.URL, "error", err)
		}
		cancel()
	}
}

// Deliver posts a synchronously.
func (d *Dispatcher) Deliver(ctx context.Context, a Alert) error {
	a.fill()
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Safebrowse-Event", a.Kind)
	req.Header.Set("X-Safebrowse-Alert-ID", a.ID.String())
	if d.secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, d.secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	d.log.Debug("alert delivered", "alert_id", a.ID, "status", resp.StatusCode)
	return nil
}

// Sign returns "sha256=<hex hmac>" of payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
