package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/safebrowse/internal/activity"
	"github.com/nikhilbhutani/safebrowse/internal/api"
	"github.com/nikhilbhutani/safebrowse/internal/api/handlers"
	"github.com/nikhilbhutani/safebrowse/internal/auth"
	"github.com/nikhilbhutani/safebrowse/internal/browsing"
	"github.com/nikhilbhutani/safebrowse/internal/cdp"
	"github.com/nikhilbhutani/safebrowse/internal/classifier"
	"github.com/nikhilbhutani/safebrowse/internal/config"
	"github.com/nikhilbhutani/safebrowse/internal/guardrails"
	"github.com/nikhilbhutani/safebrowse/internal/logging"
	"github.com/nikhilbhutani/safebrowse/internal/notify"
	"github.com/nikhilbhutani/safebrowse/internal/policy"
	"github.com/nikhilbhutani/safebrowse/internal/safety"
	"github.com/nikhilbhutani/safebrowse/internal/storage"
)

func main() {
	if len(os.Args) == 3 && os.Args[1] == "hash-passcode" {
		hash, err := auth.HashPasscode(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("safebrowse stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer backend.Close()
	slog.Info("storage ready", "backend", backend.Name)

	store, err := policy.NewStore(ctx, backend.Policy, logger)
	if err != nil {
		return err
	}
	history, err := activity.NewLog(ctx, backend.History, logger)
	if err != nil {
		return err
	}

	matcher, err := loadMatcher(cfg.Safety.RulesFile)
	if err != nil {
		return err
	}

	scorer := buildScorer(cfg.Classifier, logger)
	var images safety.ImageFetcher
	if scorer != nil {
		images = browsing.NewHTTPImageFetcher(cfg.Classifier.Timeout, cfg.Safety.ImageMaxBytes, logger)
	}
	eval := safety.NewEvaluator(store, matcher, scorer, images, safety.Options{
		Threshold:         cfg.Classifier.Threshold,
		UnsafeTextLabels:  cfg.Classifier.TextLabels,
		UnsafeImageLabels: cfg.Classifier.ImageLabels,
		FailClosed:        cfg.Safety.FailClosed,
		ImageGranularity:  safety.Granularity(cfg.Safety.ImageGranularity),
		MaxImages:         cfg.Safety.MaxImages,
		HighSeverity:      cfg.Safety.HighSeverity,
	}, logger)

	// The notice page must never be gated itself.
	guard := browsing.NewGuard(eval, cfg.Browser.NoticeBaseURL)
	scanner := browsing.NewScanner(eval, matcher.Censor, cfg.Browser.HomeURL, logger)

	alerts, closeAlerts := buildNotifier(cfg, logger)
	defer closeAlerts()

	session := browsing.NewSession(ctx, guard, scanner, browsing.NopSurface{}, history, alerts, logger)
	defer session.Close()

	if cfg.Browser.DevToolsURL != "" {
		tab, err := cdp.Attach(ctx, cdp.Options{
			DevToolsURL:   cfg.Browser.DevToolsURL,
			NoticeBaseURL: cfg.Browser.NoticeBaseURL,
			HomeURL:       cfg.Browser.HomeURL,
			Guard:         guard,
			Scanner:       scanner,
			Recorder:      history,
			Alerts:        alerts,
			Log:           logger,
		})
		if err != nil {
			return fmt.Errorf("attach browser: %w", err)
		}
		defer tab.Close()
	}

	router := api.NewRouter(cfg, api.Deps{
		Policy:  store,
		History: history,
		Auth:    auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.PasscodeHash, cfg.Auth.TokenTTL),
		Session: session,
		Matcher: matcher,
		Ready:   map[string]handlers.ReadyCheck{"storage": backend.Ready},
		Log:     logger,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

func loadMatcher(rulesFile string) (*guardrails.Matcher, error) {
	rules := guardrails.DefaultRules()
	if rulesFile != "" {
		loaded, err := guardrails.LoadRulesFile(rulesFile)
		if err != nil {
			return nil, fmt.Errorf("load pattern rules: %w", err)
		}
		rules = append(rules, loaded...)
	}
	return guardrails.NewMatcher(rules)
}

// buildScorer returns nil when no classifier is configured.
func buildScorer(cfg config.ClassifierConfig, logger *slog.Logger) classifier.Scorer {
	primary := buildBackend(cfg.Provider, cfg, logger)
	if primary == nil {
		return nil
	}
	fallback := buildBackend(cfg.Fallback, cfg, logger)
	if fallback != nil {
		slog.Info("classifier configured", "primary", primary.Name(), "fallback", fallback.Name())
	} else {
		slog.Info("classifier configured", "primary", primary.Name())
	}
	return classifier.NewGateway(primary, fallback, classifier.GatewayConfig{
		Timeout:  cfg.Timeout,
		MaxWords: cfg.MaxWords,
	}, logger)
}

func buildBackend(provider string, cfg config.ClassifierConfig, logger *slog.Logger) classifier.Backend {
	switch provider {
	case "openai":
		return classifier.NewOpenAIBackend(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.VisionModel)
	case "anthropic":
		return classifier.NewAnthropicBackend(cfg.AnthropicKey, cfg.AnthropicURL, cfg.AnthropicModel)
	case "http":
		return classifier.NewHTTPBackend(classifier.HTTPConfig{
			TextURL:  cfg.TextURL,
			ImageURL: cfg.ImageURL,
			Token:    cfg.HTTPToken,
			RetryMax: cfg.RetryMax,
		}, logger)
	}
	return nil
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func()) {
	if cfg.Alerts.WebhookURL == "" {
		return notify.Nop{}, func() {}
	}
	if cfg.Alerts.Mode == "asynq" {
		q := notify.NewQueueNotifier(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		slog.Info("parent alerts queued", "redis", cfg.Redis.Addr)
		return q, func() { q.Close() }
	}
	d := notify.NewDispatcher(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookSecret, logger)
	return d, d.Close
}
