package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/safebrowse/pkg/tokenizer"
)

// GatewayConfig bounds every call.
type GatewayConfig struct {
	Timeout  time.Duration // per ScoreText / ScoreImage, fallback included
	MaxWords int           // text is cut to its first MaxWords words
}

// Gateway routes calls to a primary backend and, on failure, a fallback.
type Gateway struct {
	primary  Backend
	fallback Backend
	cfg      GatewayConfig
	log      *slog.Logger
}

// NewGateway builds a gateway. fallback may be nil.
func NewGateway(primary, fallback Backend, cfg GatewayConfig, log *slog.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = 512
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{primary: primary, fallback: fallback, cfg: cfg, log: log.With("component", "classifier")}
}

// ScoreText scores the first MaxWords words of text.
func (g *Gateway) ScoreText(ctx context.Context, text string) Verdict {
	input, truncated := tokenizer.TruncateWords(text, g.cfg.MaxWords)
	if input == "" {
		return Verdict{Label: LabelNone}
	}
	if truncated {
		g.log.Debug("text truncated for scoring", "max_words", g.cfg.MaxWords)
	}
	return g.call(ctx, "text", func(ctx context.Context, b Backend) (Verdict, error) {
		return b.ScoreText(ctx, input)
	})
}

// ScoreImage scores raw image bytes.
func (g *Gateway) ScoreImage(ctx context.Context, image []byte) Verdict {
	if len(image) == 0 {
		return Verdict{Label: LabelNone}
	}
	return g.call(ctx, "image", func(ctx context.Context, b Backend) (Verdict, error) {
		return b.ScoreImage(ctx, image)
	})
}

func (g *Gateway) call(ctx context.Context, kind string, fn func(context.Context, Backend) (Verdict, error)) Verdict {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	v, err := g.try(ctx, g.primary, fn)
	if err != nil && g.fallback != nil && !errors.Is(err, ErrTimeout) {
		g.log.Warn("primary classifier failed, trying fallback",
			"primary", g.primary.Name(),
			"fallback", g.fallback.Name(),
			"kind", kind,
			"error", err,
		)
		v, err = g.try(ctx, g.fallback, fn)
	}
	if err != nil {
		g.log.Warn("classifier verdict unavailable", "kind", kind, "error", err)
		return unavailable()
	}
	return v
}

// try runs fn on b but returns as soon as ctx expires, even if the backend
// ignores cancellation.
func (g *Gateway) try(ctx context.Context, b Backend, fn func(context.Context, Backend) (Verdict, error)) (Verdict, error) {
	if b == nil {
		return Verdict{}, fmt.Errorf("no backend: %w", ErrUnavailable)
	}
	type result struct {
		v   Verdict
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx, b)
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return Verdict{}, fmt.Errorf("%s: %w", b.Name(), ErrTimeout)
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return Verdict{}, fmt.Errorf("%s: %w", b.Name(), ErrTimeout)
			}
			if errors.Is(r.err, ErrUnavailable) || errors.Is(r.err, ErrTimeout) {
				return Verdict{}, fmt.Errorf("%s: %w", b.Name(), r.err)
			}
			return Verdict{}, fmt.Errorf("%s: %w: %v", b.Name(), ErrUnavailable, r.err)
		}
		r.v.Score = clamp(r.v.Score)
		if r.v.Backend == "" {
			r.v.Backend = b.Name()
		}
		return r.v, nil
	}
}
