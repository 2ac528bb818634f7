// Package run performs one notification run: read the watermark, discover new
// comments for every watched member, send the notifications and advance the
// watermark.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moddb-notifier/discover"
	"moddb-notifier/pkg/notifier"
	"moddb-notifier/scraper"
)

// Store persists the watermark.
type Store interface {
	Read(ctx context.Context) int64
	Write(ctx context.Context, ts int64) error
}

// Discoverer finds a member's new comments.
type Discoverer interface {
	Discover(ctx context.Context, member notifier.Member, watermark int64) (*discover.Result, error)
}

// Composer renders a found comment into a message.
type Composer interface {
	Compose(member notifier.Member, memberName string, f *notifier.Found) *notifier.Message
}

// Dispatcher sends a batch of messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs []*notifier.Message) (int, error)
}

// Authenticator signs in to the site.
type Authenticator interface {
	Login(ctx context.Context, username, password string) error
}

// Config holds the runner's collaborators.
type Config struct {
	Store      Store
	Discoverer Discoverer
	Composer   Composer
	Dispatcher Dispatcher
	Auth       Authenticator // optional
	Logger     *slog.Logger
	Now        func() time.Time // defaults to time.Now
	Username   string
	Password   string
	Members    []notifier.Member
}

// Summary describes a finished run.
type Summary struct {
	Previous       int64 // watermark the run started from
	Watermark      int64 // watermark the run persists when it completes
	Members        int
	Found          int
	Sent           int
	MemberFailures int
	ItemFailures   int
	DispatchErr    error
	Duration       time.Duration
}

// Runner executes runs one at a time.
type Runner struct {
	mu         sync.Mutex
	store      Store
	discoverer Discoverer
	composer   Composer
	dispatcher Dispatcher
	auth       Authenticator
	logger     *slog.Logger
	now        func() time.Time
	username   string
	password   string
	members    []notifier.Member
}

// New creates a runner.
func New(cfg *Config) *Runner {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		store:      cfg.Store,
		discoverer: cfg.Discoverer,
		composer:   cfg.Composer,
		dispatcher: cfg.Dispatcher,
		auth:       cfg.Auth,
		logger:     cfg.Logger,
		now:        now,
		username:   cfg.Username,
		password:   cfg.Password,
		members:    cfg.Members,
	}
}

// RunOnce performs a single run. Concurrent calls are serialized.
//
// The new watermark is the time the run started, so a comment posted while the
// run is in progress is picked up by the next one. The watermark is written
// even when sending fails. It is not written when ctx is cancelled; the
// returned error then wraps ctx.Err(). Otherwise the only error returned is a
// failure to persist the watermark.
func (r *Runner) RunOnce(ctx context.Context) (*Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.now()
	sum := &Summary{
		Watermark: start.Unix(),
		Members:   len(r.members),
	}

	sum.Previous = r.store.Read(ctx)
	r.logger.Info("Starting run", "watermark", sum.Previous, "members", len(r.members))

	r.login(ctx)

	var batch []*notifier.Message
	for _, member := range r.members {
		res, err := r.discoverer.Discover(ctx, member, sum.Previous)
		if err != nil {
			r.logger.Error("Member check failed", "member", member.UID, "error", err)
			sum.MemberFailures++
			if res == nil {
				continue
			}
		}
		sum.ItemFailures += len(res.Failures)
		sum.Found += len(res.Comments)
		for _, f := range res.Comments {
			batch = append(batch, r.composer.Compose(member, res.Profile.Name, f))
		}
	}

	if err := ctx.Err(); err != nil {
		return r.interrupted(sum, start, "discovery", err)
	}

	sent, err := r.dispatcher.Dispatch(ctx, batch)
	sum.Sent = sent
	if err != nil {
		r.logger.Error("Sending notifications failed", "messages", len(batch), "sent", sent, "error", err)
		sum.DispatchErr = err
	}

	if err := ctx.Err(); err != nil {
		return r.interrupted(sum, start, "dispatch", err)
	}

	if err := r.store.Write(ctx, sum.Watermark); err != nil {
		sum.Duration = r.now().Sub(start)
		return sum, fmt.Errorf("save watermark: %w", err)
	}

	sum.Duration = r.now().Sub(start)
	r.logger.Info("Run completed",
		"members", sum.Members,
		"found", sum.Found,
		"sent", sum.Sent,
		"member_failures", sum.MemberFailures,
		"item_failures", sum.ItemFailures,
		"watermark", sum.Watermark,
		"duration_ms", sum.Duration.Milliseconds())

	return sum, nil
}

// interrupted ends a cancelled run without saving the watermark, so the next
// run scans the same window again.
func (r *Runner) interrupted(sum *Summary, start time.Time, stage string, err error) (*Summary, error) {
	sum.Duration = r.now().Sub(start)
	r.logger.Warn("Run interrupted, watermark not saved",
		"stage", stage,
		"found", sum.Found,
		"sent", sum.Sent,
		"watermark", sum.Previous,
		"error", err)
	return sum, fmt.Errorf("run interrupted during %s: %w", stage, err)
}

func (r *Runner) login(ctx context.Context) {
	if r.auth == nil || (r.username == "" && r.password == "") {
		r.logger.Debug("No site credentials configured, browsing as guest")
		return
	}

	err := r.auth.Login(ctx, r.username, r.password)
	switch {
	case err == nil:
		r.logger.Info("Logged in", "username", r.username)
	case errors.Is(err, scraper.ErrTwoFactor):
		r.logger.Warn("Login failed: two-factor authentication is enabled on the account, continuing as guest", "username", r.username)
	case errors.Is(err, scraper.ErrBadCredentials):
		r.logger.Warn("Login failed: invalid username or password, continuing as guest", "username", r.username)
	default:
		r.logger.Warn("Login failed, continuing as guest", "username", r.username, "error", err)
	}
}
