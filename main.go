// Package main runs a service that watches ModDB members' add-ons and emails
// each member when someone else comments on one of them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moddb-notifier/config"
	"moddb-notifier/discover"
	"moddb-notifier/email"
	"moddb-notifier/run"
	"moddb-notifier/scraper"
	"moddb-notifier/server"
	"moddb-notifier/storage"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func main() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML configuration file")
	flag.Parse()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, *configPath, logger); err != nil {
		logger.Error("Notifier failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Notifier stopped")
}

func serve(ctx context.Context, configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Info("Configuration loaded",
		"path", configPath,
		"members", len(cfg.Members.UIDs),
		"interval", cfg.Interval().String(),
		"provider", cfg.Email.Provider)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	sc := scraper.New(&http.Client{Timeout: 30 * time.Second, Jar: jar}, cfg.ModDB.BaseURL, logger)

	transport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	runner := run.New(&run.Config{
		Store:      store,
		Discoverer: discover.New(moddbSite{sc}, logger),
		Composer: email.NewComposer(email.Templates{
			Subject: cfg.Email.Subject,
			Sender:  cfg.Email.Sender,
			Body:    cfg.Body,
		}, cfg.SMTP.Email),
		Dispatcher: email.NewDispatcher(transport, logger),
		Auth:       sc,
		Logger:     logger,
		Username:   cfg.ModDB.Username,
		Password:   cfg.ModDB.Password,
		Members:    cfg.Members.UIDs,
	})

	if port := os.Getenv("PORT"); port != "" {
		srv := server.New(runner, logger)
		go func() {
			if err := srv.ListenAndServe(ctx, port); err != nil {
				logger.Error("Server failed", "error", err)
			}
		}()
	}

	schedule(ctx, cfg.Interval(), func(ctx context.Context) {
		if _, err := runner.RunOnce(ctx); err != nil {
			logger.Error("Run failed", "error", err)
		}
	}, logger)
	return nil
}

// schedule calls fn immediately and then every interval until ctx is done.
// A tick that fires while fn is running is delivered after it returns.
func schedule(ctx context.Context, interval time.Duration, fn func(context.Context), logger *slog.Logger) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// moddbSite adapts the scraper to the discovery engine.
type moddbSite struct {
	*scraper.Scraper
}

func (s moddbSite) Comments(ctx context.Context, itemURL string) (discover.Listing, error) {
	l, err := s.Scraper.Comments(ctx, itemURL)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func newTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (email.Transport, error) {
	switch cfg.Email.Provider {
	case config.ProviderSMTP:
		return email.NewSMTPTransport(email.SMTPConfig{
			Host:     cfg.SMTP.Server,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Email,
			Password: cfg.SMTP.Password,
		}, logger), nil
	case config.ProviderGmail:
		service, err := initGmailService(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize Gmail service: %w", err)
		}
		return email.NewGmailTransport(service, logger), nil
	case config.ProviderBrevo:
		return email.NewBrevoTransport(cfg.Email.BrevoAPIKey, logger), nil
	case config.ProviderMock:
		logger.Info("Mock email mode enabled")
		return email.NewMockTransport(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Watermark, func(), error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("Using local watermark storage", "path", cfg.Storage.Path)
		return storage.NewLocal(cfg.Storage.Path, logger), func() {}, nil
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize Storage client: %w", err)
	}
	logger.Info("Using Cloud Storage watermark", "bucket", cfg.Storage.Bucket, "object", cfg.Storage.Object)

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return storage.NewCloud(client, cfg.Storage.Bucket, cfg.Storage.Object, logger), closeFn, nil
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context) (*gmail.Service, error) {
	if credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON"); credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// Application Default Credentials; the service account needs the gmail.send scope.
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
