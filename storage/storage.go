// Package storage persists the "last checked" watermark between runs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// DefaultObject is the watermark file or object name.
const DefaultObject = "last_update.txt"

// Watermark stores a single Unix timestamp, either in a local file or in a
// Cloud Storage object. At most one run reads or writes it at a time.
type Watermark struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	object    string
}

// NewLocal creates a watermark store backed by the file at path.
func NewLocal(path string, logger *slog.Logger) *Watermark {
	return &Watermark{
		logger:    logger,
		localPath: path,
	}
}

// NewCloud creates a watermark store backed by bucket/object in Cloud Storage.
func NewCloud(client *storage.Client, bucket, object string, logger *slog.Logger) *Watermark {
	if object == "" {
		object = DefaultObject
	}
	return &Watermark{
		client: client,
		logger: logger,
		bucket: bucket,
		object: object,
	}
}

// Read returns the persisted watermark. A missing or unreadable value yields 0,
// which makes the next run treat every existing comment as new.
func (w *Watermark) Read(ctx context.Context) int64 {
	data, err := w.load(ctx)
	if err != nil {
		if isNotExist(err) {
			w.logger.Info("No watermark persisted yet, starting from zero")
		} else {
			w.logger.Warn("Failed to read watermark, starting from zero", "error", err)
		}
		return 0
	}

	ts, err := parse(data)
	if err != nil {
		w.logger.Warn("Corrupt watermark, starting from zero", "error", err)
		return 0
	}
	return ts
}

// Write persists ts, replacing any previous value. It returns once the value
// is durable.
func (w *Watermark) Write(ctx context.Context, ts int64) error {
	data := []byte(strconv.FormatInt(ts, 10) + "\n")

	if w.localPath != "" {
		if err := writeFileAtomic(w.localPath, data); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		w.logger.Info("Watermark saved to local storage", "path", w.localPath, "timestamp", ts)
		return nil
	}

	err := retry.Do(
		func() error {
			ow := w.client.Bucket(w.bucket).Object(w.object).NewWriter(ctx)
			ow.ContentType = "text/plain"
			if _, writeErr := ow.Write(data); writeErr != nil {
				if closeErr := ow.Close(); closeErr != nil {
					w.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := ow.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			w.logger.Info("Retrying watermark save after error", "attempt", n, "object", w.object, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	w.logger.Info("Watermark saved", "bucket", w.bucket, "object", w.object, "timestamp", ts)
	return nil
}

func (w *Watermark) load(ctx context.Context) ([]byte, error) {
	if w.localPath != "" {
		data, err := os.ReadFile(w.localPath)
		if err != nil {
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := w.client.Bucket(w.bucket).Object(w.object).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					w.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			w.logger.Info("Retrying watermark load after error", "attempt", n, "object", w.object, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// parse reads the first line of data as a decimal integer.
func parse(data []byte) (int64, error) {
	line, _, _ := strings.Cut(string(data), "\n")
	ts, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %q: %w", line, err)
	}
	return ts, nil
}

// writeFileAtomic writes data to a temp file in the same directory, syncs it,
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrObjectNotExist)
}
