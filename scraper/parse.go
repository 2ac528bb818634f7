package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"moddb-notifier/pkg/notifier"

	"github.com/PuerkitoBio/goquery"
)

// parseMemberName extracts the member's display name from a profile page.
func parseMemberName(doc *goquery.Document) string {
	if name := strings.TrimSpace(doc.Find("div.headernormalbox h2 a").First().Text()); name != "" {
		return name
	}
	if name, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	// Fallback: "<name> - ModDB" in <title>
	rawTitle := strings.TrimSpace(doc.Find("title").First().Text())
	if idx := strings.Index(rawTitle, " - "); idx > 0 {
		return rawTitle[:idx]
	}
	return rawTitle
}

// parseAddons extracts the add-on rows from a member's add-on list page.
func parseAddons(doc *goquery.Document, baseURL string) []*notifier.ContentItem {
	var items []*notifier.ContentItem
	doc.Find("div.table div.row.rowcontent").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("div.content h4 a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		items = append(items, &notifier.ContentItem{
			Name: strings.TrimSpace(link.Text()),
			URL:  absoluteURL(baseURL, href),
		})
	})
	return items
}

// parseLastPage returns the highest page number linked from the pagination
// block inside sel, or 0 when there is none.
func parseLastPage(sel *goquery.Selection) int {
	last := 0
	sel.Find("div.pages a, div.pages span.current").Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > last {
			last = n
		}
	})
	return last
}

// parseComments extracts the comments of a listing page in page order.
// Comments without a readable timestamp are dropped: a zero timestamp would
// otherwise look like an already-notified comment.
func (s *Scraper) parseComments(doc *goquery.Document) ([]*notifier.Comment, error) {
	section := doc.Find("#comments")
	if section.Length() == 0 {
		return nil, errors.New("no comment section found")
	}

	var comments []*notifier.Comment
	section.Find("div.row.comment").Each(func(i int, sel *goquery.Selection) {
		author := strings.TrimSpace(sel.Find("a.author").First().Text())
		datetime, _ := sel.Find("time").First().Attr("datetime")
		ts, err := parseTimestamp(datetime)
		if err != nil {
			s.logger.Warn("Skipping comment with unreadable timestamp", "index", i, "author", author, "datetime", datetime, "error", err)
			return
		}
		comments = append(comments, &notifier.Comment{
			Author:    author,
			Content:   sel.Find("div.text").First().Text(),
			Timestamp: ts,
		})
	})
	return comments, nil
}

func parseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized datetime %q", value)
}

func absoluteURL(baseURL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base, err := url.Parse(baseURL + "/")
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
