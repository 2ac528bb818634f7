package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"moddb-notifier/config"
	"moddb-notifier/email"
	"moddb-notifier/scraper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduleRunsImmediatelyAndOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	done := make(chan struct{})
	go func() {
		schedule(ctx, 5*time.Millisecond, func(context.Context) {
			calls++
			if calls == 3 {
				cancel()
			}
		}, discardLogger())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, calls, 3)
}

func TestScheduleStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	schedule(ctx, time.Hour, func(context.Context) { calls++ }, discardLogger())

	assert.Equal(t, 1, calls, "only the immediate run")
}

func TestModdbSiteComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/mods/foo/addons/bar", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html><body><div id="comments">
<div class="row comment"><a class="author" href="/members/bob">bob</a>
<time datetime="2024-01-01T00:00:00+00:00"></time><div class="text">hi</div></div>
</div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	site := moddbSite{scraper.New(srv.Client(), srv.URL, discardLogger())}

	l, err := site.Comments(ctx, srv.URL+"/mods/foo/addons/bar")
	require.NoError(t, err)
	assert.Equal(t, 1, l.TotalPages())

	comments, err := l.Page(ctx, 1)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "bob", comments[0].Author)

	_, err = site.Comments(ctx, srv.URL+"/missing")
	assert.Error(t, err)
}

func TestNewTransport(t *testing.T) {
	t.Setenv("GOOGLE_CREDENTIALS_JSON", "")

	tests := []struct {
		name     string
		provider string
		wantErr  bool
	}{
		{name: "smtp", provider: config.ProviderSMTP},
		{name: "brevo", provider: config.ProviderBrevo},
		{name: "mock", provider: config.ProviderMock},
		{name: "unknown", provider: "pigeon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Email.Provider = tt.provider
			cfg.Email.BrevoAPIKey = "key"
			cfg.SMTP.Server = "smtp.example.com"
			cfg.SMTP.Port = 587

			tr, err := newTransport(context.Background(), cfg, discardLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, tr)
		})
	}
}

func TestNewTransportMockType(t *testing.T) {
	cfg := &config.Config{}
	cfg.Email.Provider = config.ProviderMock

	tr, err := newTransport(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &email.MockTransport{}, tr)
}

func TestNewStoreLocal(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Path = filepath.Join(t.TempDir(), "last_update.txt")

	store, closeStore, err := newStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer closeStore()

	require.NoError(t, store.Write(context.Background(), 42))
	data, err := os.ReadFile(cfg.Storage.Path)
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(data))
}
