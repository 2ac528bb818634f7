// Package scraper handles fetching and parsing ModDB member, add-on and comment pages.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"moddb-notifier/pkg/notifier"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// DefaultBaseURL is the ModDB site root.
const DefaultBaseURL = "https://www.moddb.com"

const maxAddonPages = 50 // Safety limit for add-on list pagination

// HTTPStatusError indicates a non-OK response from the site.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsClientError reports whether err is a 4xx response, which retrying will not fix.
func IsClientError(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500
}

// Scraper fetches and parses ModDB pages. The underlying client should carry a
// cookie jar so that a successful Login is reused by later fetches.
type Scraper struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// New creates a new scraper. An empty baseURL means DefaultBaseURL.
func New(client *http.Client, baseURL string, logger *slog.Logger) *Scraper {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Scraper{
		client:  client,
		logger:  logger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Member fetches a member profile: display name plus every owned add-on.
func (s *Scraper) Member(ctx context.Context, uid string) (*notifier.Profile, error) {
	memberURL := s.baseURL + "/members/" + uid

	doc, err := s.fetchDocument(ctx, memberURL, "fetch_member")
	if err != nil {
		return nil, fmt.Errorf("fetch member page: %w", err)
	}
	name := parseMemberName(doc)
	if name == "" {
		return nil, fmt.Errorf("no display name found on %s", memberURL)
	}

	addonsURL := memberURL + "/addons"
	doc, err = s.fetchDocument(ctx, addonsURL, "fetch_addons")
	if err != nil {
		return nil, fmt.Errorf("fetch add-on list: %w", err)
	}
	addons := parseAddons(doc, s.baseURL)
	last := parseLastPage(doc.Find("div.table"))
	if last > maxAddonPages {
		s.logger.Warn("Add-on list has too many pages, truncating", "member", uid, "pages", last, "limit", maxAddonPages)
		last = maxAddonPages
	}
	for page := 2; page <= last; page++ {
		doc, err := s.fetchDocument(ctx, buildPageURL(addonsURL, page), "fetch_addons")
		if err != nil {
			return nil, fmt.Errorf("fetch add-on list page %d: %w", page, err)
		}
		addons = append(addons, parseAddons(doc, s.baseURL)...)
	}

	s.logger.Info("Member profile parsed", "member", uid, "name", name, "addons", len(addons))
	return &notifier.Profile{Name: name, Addons: addons}, nil
}

// Comments fetches the first page of an item's comment listing. Further pages
// are fetched lazily through the returned listing.
func (s *Scraper) Comments(ctx context.Context, itemURL string) (*Listing, error) {
	itemURL = strings.TrimSuffix(itemURL, "/")
	doc, err := s.fetchDocument(ctx, itemURL, "fetch_comments")
	if err != nil {
		return nil, err
	}
	comments, err := s.parseComments(doc)
	if err != nil {
		return nil, err
	}
	total := parseLastPage(doc.Find("#comments"))
	if total < 1 {
		total = 1
	}
	return &Listing{
		scraper: s,
		url:     itemURL,
		total:   total,
		pages:   map[int][]*notifier.Comment{1: comments},
	}, nil
}

// Listing is one item's paginated comment listing.
type Listing struct {
	scraper *Scraper
	url     string
	total   int
	pages   map[int][]*notifier.Comment
}

// TotalPages returns the number of comment pages.
func (l *Listing) TotalPages() int {
	return l.total
}

// Page returns the comments on page n (1-based) in listing order.
func (l *Listing) Page(ctx context.Context, n int) ([]*notifier.Comment, error) {
	if n < 1 || n > l.total {
		return nil, fmt.Errorf("page %d out of range 1..%d", n, l.total)
	}
	if comments, ok := l.pages[n]; ok {
		return comments, nil
	}
	doc, err := l.scraper.fetchDocument(ctx, buildPageURL(l.url, n), "fetch_comments")
	if err != nil {
		return nil, err
	}
	comments, err := l.scraper.parseComments(doc)
	if err != nil {
		return nil, err
	}
	l.pages[n] = comments
	return comments, nil
}

func (s *Scraper) fetchDocument(ctx context.Context, pageURL, purpose string) (*goquery.Document, error) {
	var doc *goquery.Document

	err := retry.Do(
		func() error {
			s.logger.Info("HTTP request starting",
				"method", "GET",
				"url", pageURL,
				"purpose", purpose)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			setBrowserHeaders(req)

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode != http.StatusOK {
				return &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
			}

			doc, err = goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("parse HTML: %w", err))
			}
			return nil
		},
		retry.Attempts(4),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "url", pageURL, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsClientError(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}
	return doc, nil
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

func buildPageURL(baseURL string, pageNum int) string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if pageNum <= 1 {
		return baseURL
	}
	return fmt.Sprintf("%s/page/%d", baseURL, pageNum)
}
