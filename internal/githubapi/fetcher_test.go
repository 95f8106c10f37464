package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherFixture struct {
	mux     *http.ServeMux
	server  *httptest.Server
	fetcher *Fetcher
}

func newFetcherFixture(t *testing.T, opts ...Option) *fetcherFixture {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	noSleep := WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })
	opts = append([]Option{noSleep, WithBackoff(func(int) time.Duration { return 0 })}, opts...)

	gov := NewGovernor(0, 0, logger)
	return &fetcherFixture{
		mux:     mux,
		server:  server,
		fetcher: NewFetcher(client, gov, logger, opts...),
	}
}

func writeRateHeaders(w http.ResponseWriter, remaining int) {
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
}

// serveContributorPages serves totalItems contributors, 100 per page, with
// Link headers driving pagination.
func (f *fetcherFixture) serveContributorPages(totalItems int) *int {
	calls := 0
	lastPage := (totalItems + 99) / 100

	f.mux.HandleFunc("/repos/acme/api/contributors", func(w http.ResponseWriter, r *http.Request) {
		calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}

		writeRateHeaders(w, 4000)
		if page < lastPage {
			w.Header().Set("Link", fmt.Sprintf(
				`<%s/repos/acme/api/contributors?page=%d>; rel="next", <%s/repos/acme/api/contributors?page=%d>; rel="last"`,
				f.server.URL, page+1, f.server.URL, lastPage))
		}

		count := 100
		if page == lastPage {
			count = totalItems - (lastPage-1)*100
		}
		fmt.Fprint(w, "[")
		for i := 0; i < count; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"login":"user%d-%d","contributions":%d}`, page, i, i+1)
		}
		fmt.Fprint(w, "]")
	})

	return &calls
}

func TestFetcher_WalksAllPages(t *testing.T) {
	f := newFetcherFixture(t)
	f.serveContributorPages(257)

	var total int
	var pages []int
	res, err := f.fetcher.Contributors(context.Background(), "acme", "api", Cursor{}, Caps{}, func(page, next int, items []*github.Contributor) error {
		pages = append(pages, page)
		total += len(items)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 257, total)
	assert.Equal(t, []int{1, 2, 3}, pages)
	assert.Equal(t, 3, res.Pages)
	assert.False(t, res.Partial)
	assert.Equal(t, 4, res.Next.Page)
}

func TestFetcher_ResumesFromCursor(t *testing.T) {
	f := newFetcherFixture(t)
	calls := f.serveContributorPages(257)

	var pages []int
	res, err := f.fetcher.Contributors(context.Background(), "acme", "api", Cursor{Page: 3}, Caps{}, func(page, next int, items []*github.Contributor) error {
		pages = append(pages, page)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{3}, pages)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, res.Pages)
}

func TestFetcher_MaxPagesCapYieldsPartial(t *testing.T) {
	f := newFetcherFixture(t)
	f.serveContributorPages(500)

	var total int
	res, err := f.fetcher.Contributors(context.Background(), "acme", "api", Cursor{}, Caps{MaxPages: 2}, func(page, next int, items []*github.Contributor) error {
		total += len(items)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 200, total)
	assert.Equal(t, 3, res.Next.Page)
}

func TestFetcher_FollowsNonSequentialLinkHeader(t *testing.T) {
	f := newFetcherFixture(t)
	f.mux.HandleFunc("/repos/acme/api/contributors", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		writeRateHeaders(w, 4000)
		if page <= 1 {
			// Upstream advertises page 5 as the continuation.
			w.Header().Set("Link", fmt.Sprintf(
				`<%s/repos/acme/api/contributors?page=5>; rel="next", <%s/repos/acme/api/contributors?page=5>; rel="last"`,
				f.server.URL, f.server.URL))
		}
		fmt.Fprint(w, `[{"login":"alice","contributions":1}]`)
	})

	var pages, nexts []int
	res, err := f.fetcher.Contributors(context.Background(), "acme", "api", Cursor{}, Caps{}, func(page, next int, items []*github.Contributor) error {
		pages = append(pages, page)
		nexts = append(nexts, next)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, pages)
	assert.Equal(t, []int{5, 6}, nexts, "the callback sees the upstream continuation, not page+1")
	assert.Equal(t, 6, res.Next.Page)
}

func TestFetcher_NotFoundIsEmptyResult(t *testing.T) {
	f := newFetcherFixture(t)
	f.mux.HandleFunc("/repos/acme/gone/contributors", func(w http.ResponseWriter, r *http.Request) {
		writeRateHeaders(w, 4000)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	called := false
	res, err := f.fetcher.Contributors(context.Background(), "acme", "gone", Cursor{}, Caps{}, func(int, int, []*github.Contributor) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 0, res.Pages)
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	f := newFetcherFixture(t)
	attempts := 0
	f.mux.HandleFunc("/repos/acme/api/contributors", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		writeRateHeaders(w, 4000)
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[{"login":"alice","contributions":5}]`)
	})

	var total int
	_, err := f.fetcher.Contributors(context.Background(), "acme", "api", Cursor{}, Caps{}, func(_, _ int, items []*github.Contributor) error {
		total += len(items)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, total)
}

func TestFetcher_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFetcherFixture(t)
	attempts := 0
	f.mux.HandleFunc("/repos/acme/api/contributors", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		writeRateHeaders(w, 4000)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := f.fetcher.Contributors(context.Background(), "acme", "api", Cursor{}, Caps{}, func(int, int, []*github.Contributor) error {
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestFetcher_RecoversFromRateLimitResponse(t *testing.T) {
	f := newFetcherFixture(t)
	attempts := 0
	f.mux.HandleFunc("/repos/acme/api/contributors", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			// Explicit limited signal with an already-passed reset.
			w.Header().Set("X-RateLimit-Limit", "5000")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
			return
		}
		writeRateHeaders(w, 4000)
		fmt.Fprint(w, `[{"login":"alice","contributions":5}]`)
	})

	var total int
	_, err := f.fetcher.Contributors(context.Background(), "acme", "api", Cursor{}, Caps{}, func(_, _ int, items []*github.Contributor) error {
		total += len(items)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestFetcher_BadCredentialsIsFatal(t *testing.T) {
	f := newFetcherFixture(t)
	f.mux.HandleFunc("/repos/acme/api/contributors", func(w http.ResponseWriter, r *http.Request) {
		writeRateHeaders(w, 4000)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Bad credentials"}`)
	})

	_, err := f.fetcher.Contributors(context.Background(), "acme", "api", Cursor{}, Caps{}, func(int, int, []*github.Contributor) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestFetcher_Repository(t *testing.T) {
	f := newFetcherFixture(t)
	f.mux.HandleFunc("/repos/acme/api", func(w http.ResponseWriter, r *http.Request) {
		writeRateHeaders(w, 4000)
		fmt.Fprint(w, `{"name":"api","full_name":"acme/api","owner":{"login":"acme"},"stargazers_count":42}`)
	})
	f.mux.HandleFunc("/repos/acme/gone", func(w http.ResponseWriter, r *http.Request) {
		writeRateHeaders(w, 4000)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	repo, err := f.fetcher.Repository(context.Background(), "acme", "api")
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, "acme/api", repo.GetFullName())

	gone, err := f.fetcher.Repository(context.Background(), "acme", "gone")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestFetcher_CallbackErrorStopsWithoutRetry(t *testing.T) {
	f := newFetcherFixture(t)
	calls := f.serveContributorPages(300)

	_, err := f.fetcher.Contributors(context.Background(), "acme", "api", Cursor{}, Caps{}, func(page, next int, items []*github.Contributor) error {
		return fmt.Errorf("writer unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 1, *calls)
}
