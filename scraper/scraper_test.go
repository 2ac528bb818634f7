package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memberPage = `<html><head><title>Alice - ModDB</title></head><body>
<div class="headernormalbox"><h2><a href="/members/a1">Alice</a></h2></div>
</body></html>`

const addonsPage1 = `<html><body><div class="table">
<div class="row rowcontent"><div class="content"><h4><a href="/addons/first-pack">First Pack</a></h4></div></div>
<div class="row rowcontent"><div class="content"><h4><a href="/addons/second-pack">Second Pack</a></h4></div></div>
<div class="pages"><span class="current">1</span><a href="/members/a1/addons/page/2">2</a><a href="/members/a1/addons/page/2">next</a></div>
</div></body></html>`

const addonsPage2 = `<html><body><div class="table">
<div class="row rowcontent"><div class="content"><h4><a href="https://cdn.example.com/addons/third">Third</a></h4></div></div>
</div></body></html>`

func commentRow(author, datetime, text string) string {
	return fmt.Sprintf(`<div class="row comment"><a class="author" href="#">%s</a><time datetime="%s">ago</time><div class="text">%s</div></div>`, author, datetime, text)
}

func commentsPage(pages int, rows ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="comments">`)
	for _, r := range rows {
		b.WriteString(r)
	}
	if pages > 1 {
		b.WriteString(`<div class="pages">`)
		for i := 1; i <= pages; i++ {
			fmt.Fprintf(&b, `<a href="?p=%d">%d</a>`, i, i)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func newTestScraper(t *testing.T, handler http.Handler) *Scraper {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&http.Client{Jar: jar, Timeout: 5 * time.Second}, srv.URL, logger)
}

func TestMemberProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/members/a1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, memberPage)
	})
	mux.HandleFunc("/members/a1/addons", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, addonsPage1)
	})
	mux.HandleFunc("/members/a1/addons/page/2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, addonsPage2)
	})
	s := newTestScraper(t, mux)

	profile, err := s.Member(context.Background(), "a1")
	require.NoError(t, err)

	assert.Equal(t, "Alice", profile.Name)
	require.Len(t, profile.Addons, 3)
	assert.Equal(t, s.baseURL+"/addons/first-pack", profile.Addons[0].URL)
	assert.Equal(t, "Second Pack", profile.Addons[1].Name)
	assert.Equal(t, "https://cdn.example.com/addons/third", profile.Addons[2].URL, "absolute URL kept")
}

func TestMemberNotFoundIsNotRetried(t *testing.T) {
	var hits int
	s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		http.NotFound(w, nil)
	}))

	_, err := s.Member(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, 1, hits, "404 must not be retried")
}

func TestCommentsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/addons/pack", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, commentsPage(2,
			commentRow("bob", "2024-01-02T00:00:00Z", "second"),
			commentRow("carol", "2024-01-01T00:00:00Z", "first"),
		))
	})
	mux.HandleFunc("/addons/pack/page/2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, commentsPage(2,
			commentRow("dave", "2024-02-01T10:00:00+01:00", "  newest  "),
			commentRow("erin", "not a date", "broken"),
		))
	})
	s := newTestScraper(t, mux)
	ctx := context.Background()

	listing, err := s.Comments(ctx, s.baseURL+"/addons/pack/")
	require.NoError(t, err)
	require.Equal(t, 2, listing.TotalPages())

	first, err := listing.Page(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "bob", first[0].Author)
	assert.Equal(t, "carol", first[1].Author)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Unix(), first[0].Timestamp)

	second, err := listing.Page(ctx, 2)
	require.NoError(t, err)
	require.Len(t, second, 1, "unreadable timestamp is dropped")
	assert.Equal(t, "  newest  ", second[0].Content, "content passed through untrimmed")
	assert.Equal(t, time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC).Unix(), second[0].Timestamp)

	_, err = listing.Page(ctx, 3)
	assert.Error(t, err, "page 3 is out of range")
}

func TestCommentsSinglePageWithoutPagination(t *testing.T) {
	s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, commentsPage(1, commentRow("bob", "2024-01-02T00:00:00Z", "hi")))
	}))

	listing, err := s.Comments(context.Background(), s.baseURL+"/addons/solo")
	require.NoError(t, err)
	assert.Equal(t, 1, listing.TotalPages())
}

func TestCommentsMissingSection(t *testing.T) {
	s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html><body><p>nothing here</p></body></html>`)
	}))

	_, err := s.Comments(context.Background(), s.baseURL+"/addons/empty")
	assert.Error(t, err)
}

func TestBuildPageURL(t *testing.T) {
	tests := []struct {
		base string
		page int
		want string
	}{
		{"https://www.moddb.com/addons/x", 1, "https://www.moddb.com/addons/x"},
		{"https://www.moddb.com/addons/x/", 0, "https://www.moddb.com/addons/x"},
		{"https://www.moddb.com/addons/x/", 3, "https://www.moddb.com/addons/x/page/3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, buildPageURL(tt.base, tt.page), "buildPageURL(%q, %d)", tt.base, tt.page)
	}
}

func TestLogin(t *testing.T) {
	const form = `<html><body><form id="membersform" action="/members/login" method="post">
<input type="hidden" name="referer" value="/">
<input type="hidden" name="token" value="abc123">
<input type="text" name="username"><input type="password" name="password">
</form></body></html>`

	tests := []struct {
		name     string
		response string
		wantErr  error
	}{
		{"success", `<html><body><a href="/members/logout">Logout</a></body></html>`, nil},
		{"two factor", `<html><body><form><input name="twofactor"></form></body></html>`, ErrTwoFactor},
		{"rejected", `<html><body><p class="error">Invalid</p></body></html>`, ErrBadCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var posted map[string]string
			s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					assert.NoError(t, r.ParseForm())
					posted = map[string]string{
						"token":    r.PostForm.Get("token"),
						"username": r.PostForm.Get("username"),
						"password": r.PostForm.Get("password"),
					}
					_, _ = io.WriteString(w, tt.response)
					return
				}
				_, _ = io.WriteString(w, form)
			}))

			err := s.Login(context.Background(), "alice", "hunter2")
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, map[string]string{"token": "abc123", "username": "alice", "password": "hunter2"}, posted)
		})
	}
}

func TestLoginWithoutCredentials(t *testing.T) {
	s := New(http.DefaultClient, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, s.Login(context.Background(), "", ""), ErrBadCredentials)
}
