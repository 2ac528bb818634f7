// Package discover finds comments posted on a member's add-ons since the last run.
package discover

import (
	"context"
	"fmt"
	"log/slog"

	"moddb-notifier/pkg/notifier"
)

// Listing is one content item's paginated comment listing. Page 1 is the
// oldest page and Page returns comments in the order the site lists them.
type Listing interface {
	TotalPages() int
	Page(ctx context.Context, n int) ([]*notifier.Comment, error)
}

// Site fetches member profiles and comment listings.
type Site interface {
	Member(ctx context.Context, uid string) (*notifier.Profile, error)
	Comments(ctx context.Context, itemURL string) (Listing, error)
}

// ItemError records a content item whose scan failed.
type ItemError struct {
	Item *notifier.ContentItem
	Page int // 0 when the listing itself could not be fetched
	Err  error
}

func (e *ItemError) Error() string {
	if e.Page == 0 {
		return fmt.Sprintf("fetch comments for %s: %v", e.Item.URL, e.Err)
	}
	return fmt.Sprintf("fetch comment page %d for %s: %v", e.Page, e.Item.URL, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Result is the outcome of scanning one member.
type Result struct {
	Profile  *notifier.Profile
	Comments []*notifier.Found
	Failures []*ItemError
}

// Engine walks comment listings looking for new comments.
type Engine struct {
	site   Site
	logger *slog.Logger
}

// New creates a new discovery engine.
func New(site Site, logger *slog.Logger) *Engine {
	return &Engine{
		site:   site,
		logger: logger,
	}
}

// Discover returns every comment on the member's add-ons newer than watermark,
// excluding the member's own comments. A profile fetch failure is returned as
// an error; item failures are isolated and reported in Result.Failures.
func (e *Engine) Discover(ctx context.Context, member notifier.Member, watermark int64) (*Result, error) {
	e.logger.Info("Checking member", "member", member.UID, "watermark", watermark)

	profile, err := e.site.Member(ctx, member.UID)
	if err != nil {
		return nil, fmt.Errorf("fetch member %s: %w", member.UID, err)
	}

	result := &Result{Profile: profile}
	for _, item := range profile.Addons {
		select {
		case <-ctx.Done():
			e.logger.Info("Context cancelled, stopping discovery", "member", member.UID, "error", ctx.Err())
			return result, ctx.Err()
		default:
		}

		found, failure := e.scanItem(ctx, profile.Name, item, watermark)
		result.Comments = append(result.Comments, found...)
		if failure != nil {
			e.logger.Warn("Add-on scan failed", "member", member.UID, "addon", item.Name, "error", failure)
			result.Failures = append(result.Failures, failure)
		}
	}

	e.logger.Info("Member check completed",
		"member", member.UID,
		"name", profile.Name,
		"addons", len(profile.Addons),
		"new_comments", len(result.Comments),
		"failures", len(result.Failures))

	return result, nil
}

// scanItem walks pages from the last to the first and, within each page, the
// comments from last to first. The first comment at or before the watermark
// ends the scan of this item.
func (e *Engine) scanItem(ctx context.Context, owner string, item *notifier.ContentItem, watermark int64) ([]*notifier.Found, *ItemError) {
	e.logger.Info("Checking add-on", "addon", item.Name, "url", item.URL)

	listing, err := e.site.Comments(ctx, item.URL)
	if err != nil {
		return nil, &ItemError{Item: item, Err: err}
	}

	var found []*notifier.Found
	for page := listing.TotalPages(); page >= 1; page-- {
		comments, err := listing.Page(ctx, page)
		if err != nil {
			return found, &ItemError{Item: item, Page: page, Err: err}
		}
		for i := len(comments) - 1; i >= 0; i-- {
			c := comments[i]
			if c.Timestamp <= watermark {
				e.logger.Debug("Reached already notified comment", "addon", item.Name, "page", page, "timestamp", c.Timestamp)
				return found, nil
			}
			if c.Author == owner {
				continue
			}
			e.logger.Info("Found new comment", "addon", item.Name, "author", c.Author, "timestamp", c.Timestamp)
			found = append(found, &notifier.Found{
				Comment:  c,
				ItemName: item.Name,
				ItemURL:  item.URL,
			})
		}
	}
	return found, nil
}
