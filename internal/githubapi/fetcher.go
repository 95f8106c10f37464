package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"

	"github.com/contribconnect/contribgraph/internal/retry"
)

const perPage = 100

// ErrBadCredentials marks authentication failures. These are fatal for the
// whole run; retrying with the same token cannot succeed.
var ErrBadCredentials = errors.New("bad credentials")

// Cursor is a resumable position within a paginated listing.
type Cursor struct {
	Page int
}

// Caps bounds a single fetch pass. Hitting a cap yields a partial result,
// not an error; the returned cursor lets the next run pick up from there.
type Caps struct {
	MaxPages    int
	MaxDuration time.Duration
}

// Result describes how a paginated fetch ended.
type Result struct {
	Next    Cursor
	Pages   int
	Partial bool
}

// Fetcher walks paginated GitHub listings, checking the shared Governor
// before every request and retrying transient failures with backoff. A
// denied budget check waits out the advised delay and retries the same
// page; nothing already fetched is lost.
type Fetcher struct {
	client      *github.Client
	gov         *Governor
	logger      *logrus.Logger
	maxAttempts int
	backoff     func(attempt int) time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithSleep replaces the wait function (tests substitute a no-op).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = fn }
}

// WithBackoff replaces the transient-retry backoff schedule.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(f *Fetcher) { f.backoff = fn }
}

// WithMaxAttempts sets the per-page transient retry budget.
func WithMaxAttempts(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

// NewClient builds a go-github client for the given token. An empty token
// yields an unauthenticated client (useful against test servers).
func NewClient(token string) *github.Client {
	c := github.NewClient(nil)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	return c
}

// NewFetcher creates a Fetcher over the given client and governor.
func NewFetcher(client *github.Client, gov *Governor, logger *logrus.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      client,
		gov:         gov,
		logger:      logger,
		maxAttempts: retry.DefaultMaxAttempts,
		backoff:     retry.Backoff,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Repository fetches repository metadata. A repository that has vanished
// upstream returns (nil, nil), matching the empty-listing convention.
func (f *Fetcher) Repository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	var out *github.Repository
	_, err := f.fetchPage(ctx, 0, func(page int) (*github.Response, error) {
		r, resp, err := f.client.Repositories.Get(ctx, owner, repo)
		if err == nil {
			out = r
		}
		return resp, err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// Contributors streams contributor pages to fn.
func (f *Fetcher) Contributors(ctx context.Context, owner, repo string, start Cursor, caps Caps, fn func(page, next int, items []*github.Contributor) error) (Result, error) {
	return paginate(ctx, f, start, caps, func(page int) ([]*github.Contributor, *github.Response, error) {
		opts := &github.ListContributorsOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		}
		return f.client.Repositories.ListContributors(ctx, owner, repo, opts)
	}, fn)
}

// PullRequests streams pull request pages to fn, oldest first so page
// contents stay stable across resumed runs.
func (f *Fetcher) PullRequests(ctx context.Context, owner, repo string, start Cursor, caps Caps, fn func(page, next int, items []*github.PullRequest) error) (Result, error) {
	return paginate(ctx, f, start, caps, func(page int) ([]*github.PullRequest, *github.Response, error) {
		opts := &github.PullRequestListOptions{
			State:       "all",
			Sort:        "created",
			Direction:   "asc",
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		}
		return f.client.PullRequests.List(ctx, owner, repo, opts)
	}, fn)
}

// Issues streams issue pages to fn, oldest first. The listing includes
// pull requests (upstream models them as issues); callers filter.
func (f *Fetcher) Issues(ctx context.Context, owner, repo string, start Cursor, caps Caps, fn func(page, next int, items []*github.Issue) error) (Result, error) {
	return paginate(ctx, f, start, caps, func(page int) ([]*github.Issue, *github.Response, error) {
		opts := &github.IssueListByRepoOptions{
			State:       "all",
			Sort:        "created",
			Direction:   "asc",
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		}
		return f.client.Issues.ListByRepo(ctx, owner, repo, opts)
	}, fn)
}

// Labels streams label pages to fn.
func (f *Fetcher) Labels(ctx context.Context, owner, repo string, start Cursor, caps Caps, fn func(page, next int, items []*github.Label) error) (Result, error) {
	return paginate(ctx, f, start, caps, func(page int) ([]*github.Label, *github.Response, error) {
		opts := &github.ListOptions{Page: page, PerPage: perPage}
		return f.client.Issues.ListLabels(ctx, owner, repo, opts)
	}, fn)
}

// PullRequestFiles returns every file touched by one pull request.
func (f *Fetcher) PullRequestFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error) {
	var all []*github.CommitFile
	_, err := paginate(ctx, f, Cursor{}, Caps{}, func(page int) ([]*github.CommitFile, *github.Response, error) {
		opts := &github.ListOptions{Page: page, PerPage: perPage}
		return f.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
	}, func(_, _ int, items []*github.CommitFile) error {
		all = append(all, items...)
		return nil
	})
	return all, err
}

// PullRequestReviews returns every review on one pull request.
func (f *Fetcher) PullRequestReviews(ctx context.Context, owner, repo string, number int) ([]*github.PullRequestReview, error) {
	var all []*github.PullRequestReview
	_, err := paginate(ctx, f, Cursor{}, Caps{}, func(page int) ([]*github.PullRequestReview, *github.Response, error) {
		opts := &github.ListOptions{Page: page, PerPage: perPage}
		return f.client.PullRequests.ListReviews(ctx, owner, repo, number, opts)
	}, func(_, _ int, items []*github.PullRequestReview) error {
		all = append(all, items...)
		return nil
	})
	return all, err
}

// paginate walks a listing from start until the upstream reports no next
// page or a cap fires. fn runs once per successfully fetched page with the
// upstream's own continuation (which may skip page numbers); an fn error
// aborts the walk without retrying (the page itself was fine).
//
// The returned cursor always names the first unprocessed page, so callers
// can checkpoint next after every fn call completes.
func paginate[T any](ctx context.Context, f *Fetcher, start Cursor, caps Caps, list func(page int) ([]T, *github.Response, error), fn func(page, next int, items []T) error) (Result, error) {
	page := start.Page
	if page <= 0 {
		page = 1
	}
	res := Result{Next: Cursor{Page: page}}

	var deadline time.Time
	if caps.MaxDuration > 0 {
		deadline = time.Now().Add(caps.MaxDuration)
	}

	for {
		if caps.MaxPages > 0 && res.Pages >= caps.MaxPages {
			res.Partial = true
			return res, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			res.Partial = true
			return res, nil
		}

		var items []T
		resp, err := f.fetchPage(ctx, page, func(p int) (*github.Response, error) {
			var e error
			var r *github.Response
			items, r, e = list(p)
			return r, e
		})
		if err != nil {
			if isNotFound(err) {
				// Vanished or empty upstream resource: a clean empty
				// tail, not a failure.
				return res, nil
			}
			return res, err
		}

		next := page + 1
		if resp != nil && resp.NextPage > 0 {
			next = resp.NextPage
		}

		if fnErr := fn(page, next, items); fnErr != nil {
			return res, fnErr
		}

		res.Pages++
		res.Next = Cursor{Page: next}
		if resp == nil || resp.NextPage == 0 {
			return res, nil
		}
		page = next
	}
}

// fetchPage performs one upstream call with budget gating and transient
// retries. Rate-limit signals wait and retry without consuming the
// transient budget; only genuine errors count against it.
func (f *Fetcher) fetchPage(ctx context.Context, page int, call func(page int) (*github.Response, error)) (*github.Response, error) {
	transient := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if dec := f.gov.TryAcquire(); !dec.Proceed {
			f.logger.WithFields(logrus.Fields{
				"page":        page,
				"retry_after": dec.RetryAfter,
			}).Info("rate budget exhausted, pausing")
			if err := f.sleep(ctx, dec.RetryAfter); err != nil {
				return nil, err
			}
			continue
		}

		resp, err := call(page)
		if resp != nil {
			f.gov.ObserveResponse(resp)
		}
		if err == nil {
			return resp, nil
		}

		var rle *github.RateLimitError
		if errors.As(err, &rle) {
			f.gov.ObserveRateLimited(rle.Rate.Reset.Time)
			continue
		}

		var arle *github.AbuseRateLimitError
		if errors.As(err, &arle) {
			wait := time.Minute
			if arle.RetryAfter != nil {
				wait = *arle.RetryAfter
			}
			f.logger.WithField("retry_after", wait).Warn("secondary rate limit hit")
			if serr := f.sleep(ctx, wait); serr != nil {
				return nil, serr
			}
			continue
		}

		if isBadCredentials(err) {
			return nil, fmt.Errorf("%w: %v", ErrBadCredentials, err)
		}
		if isNotFound(err) {
			return nil, err
		}

		transient++
		if transient >= f.maxAttempts {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}

		wait := f.backoff(transient - 1)
		f.logger.WithError(err).WithFields(logrus.Fields{
			"page":    page,
			"attempt": transient,
			"backoff": wait,
		}).Warn("transient fetch failure, retrying")
		if serr := f.sleep(ctx, wait); serr != nil {
			return nil, serr
		}
	}
}

// IsNotFound reports whether err is an upstream 404/410.
func IsNotFound(err error) bool {
	return isNotFound(err)
}

func isNotFound(err error) bool {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode == http.StatusNotFound ||
			er.Response.StatusCode == http.StatusGone
	}
	return false
}

func isBadCredentials(err error) bool {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode == http.StatusUnauthorized
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
