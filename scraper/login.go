package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrTwoFactor means the account has two-factor authentication enabled, which
	// a form login cannot complete.
	ErrTwoFactor = errors.New("two-factor authentication enabled")
	// ErrBadCredentials means the site rejected the username or password.
	ErrBadCredentials = errors.New("invalid login credentials")
)

// Login authenticates the scraper's session so that comments restricted to
// logged-in visitors become visible. Session cookies live in the client's jar.
func (s *Scraper) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return ErrBadCredentials
	}
	loginURL := s.baseURL + "/members/login"

	doc, err := s.fetchDocument(ctx, loginURL, "fetch_login_form")
	if err != nil {
		return fmt.Errorf("fetch login form: %w", err)
	}
	form := doc.Find("form#membersform").First()
	if form.Length() == 0 {
		return errors.New("login form not found")
	}

	values := url.Values{}
	form.Find(`input[type="hidden"]`).Each(func(_ int, in *goquery.Selection) {
		if name, ok := in.Attr("name"); ok && name != "" {
			value, _ := in.Attr("value")
			values.Set(name, value)
		}
	})
	values.Set("username", username)
	values.Set("password", password)
	values.Set("rememberme", "1")

	action := loginURL
	if a, ok := form.Attr("action"); ok && a != "" {
		action = absoluteURL(s.baseURL, a)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action, strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL)

	s.logger.Info("HTTP request starting", "method", "POST", "url", action, "purpose", "login")
	startTime := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post login form: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()
	s.logger.Info("HTTP request completed",
		"url", action,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(startTime).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{URL: action, StatusCode: resp.StatusCode}
	}

	result, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	return classifyLogin(result)
}

func classifyLogin(doc *goquery.Document) error {
	if doc.Find(`a[href$="/members/logout"]`).Length() > 0 {
		return nil
	}
	if doc.Find(`input[name="twofactor"]`).Length() > 0 {
		return ErrTwoFactor
	}
	return ErrBadCredentials
}
