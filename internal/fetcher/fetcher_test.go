package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// scriptedTransport answers from a fixed URL → response table.
type scriptedTransport struct {
	mu        sync.Mutex
	responses map[string]Response
	errs      map[string]error
	calls     []string
}

func (s *scriptedTransport) Get(_ context.Context, rawURL string) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rawURL)
	if err, ok := s.errs[rawURL]; ok {
		return Response{}, err
	}
	resp, ok := s.responses[rawURL]
	if !ok {
		return Response{URL: rawURL, StatusCode: http.StatusNotFound}, nil
	}
	resp.URL = rawURL
	return resp, nil
}

func redirect(to string) Response {
	return Response{StatusCode: http.StatusFound, Header: http.Header{"Location": {to}}}
}

func newTestFetcher(t *testing.T, tr Transport, limiter Limiter) *Fetcher {
	t.Helper()
	f, err := New(tr, limiter, Config{RedirectDelay: -1}, nil)
	require.NoError(t, err)
	return f
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{responses: map[string]Response{
		"http://a/": {StatusCode: http.StatusOK, Body: []byte("hello")},
	}}
	out := newTestFetcher(t, tr, nil).Fetch(context.Background(), "http://a/")
	require.True(t, out.OK())
	assert.Equal(t, "hello", out.Body())
	assert.Equal(t, 0, out.Hops)
}

func TestFetchFollowsRelativeAndAbsoluteRedirects(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{responses: map[string]Response{
		"http://a/start": redirect("/middle"),
		"http://a/middle": {
			StatusCode: http.StatusMovedPermanently,
			Header:     http.Header{"Location": {"http://b/end"}},
		},
		"http://b/end": {StatusCode: http.StatusOK, Body: []byte("done")},
	}}
	out := newTestFetcher(t, tr, nil).Fetch(context.Background(), "http://a/start")
	require.True(t, out.OK())
	assert.Equal(t, "done", out.Body())
	assert.Equal(t, 2, out.Hops)
	assert.Equal(t, []string{"http://a/start", "http://a/middle", "http://b/end"}, tr.calls)
}

func TestFetchRedirectBound(t *testing.T) {
	t.Parallel()

	chain := func(hops int, final Response) *scriptedTransport {
		tr := &scriptedTransport{responses: map[string]Response{}}
		for i := 0; i < hops; i++ {
			tr.responses[fmt.Sprintf("http://a/%d", i)] = redirect(fmt.Sprintf("http://a/%d", i+1))
		}
		tr.responses[fmt.Sprintf("http://a/%d", hops)] = final
		return tr
	}

	t.Run("SixteenHopsResolve", func(t *testing.T) {
		tr := chain(16, Response{StatusCode: http.StatusOK, Body: []byte("end")})
		out := newTestFetcher(t, tr, nil).Fetch(context.Background(), "http://a/0")
		require.True(t, out.OK())
		assert.Equal(t, "end", out.Body())
		assert.Equal(t, 16, out.Hops)
		assert.Len(t, tr.calls, 17)
	})

	t.Run("SeventeenthRedirectFails", func(t *testing.T) {
		tr := chain(17, Response{StatusCode: http.StatusOK, Body: []byte("end")})
		out := newTestFetcher(t, tr, nil).Fetch(context.Background(), "http://a/0")
		require.False(t, out.OK())
		assert.ErrorIs(t, out.Err(), archive.ErrTooManyRedirects)
		assert.Equal(t, "ERROR too many redirections", out.Content())
		assert.Len(t, tr.calls, 17)
	})

	t.Run("SelfLoop", func(t *testing.T) {
		tr := &scriptedTransport{responses: map[string]Response{"http://loop/": redirect("http://loop/")}}
		out := newTestFetcher(t, tr, nil).Fetch(context.Background(), "http://loop/")
		assert.Equal(t, "ERROR too many redirections", out.Content())
		assert.Len(t, tr.calls, DefaultMaxRedirects+1)
	})
}

func TestFetchRedirectWithoutLocation(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{responses: map[string]Response{
		"http://a/": {StatusCode: http.StatusMovedPermanently, Header: http.Header{}},
	}}
	out := newTestFetcher(t, tr, nil).Fetch(context.Background(), "http://a/")
	assert.ErrorIs(t, out.Err(), archive.ErrNoRedirectTarget)
	assert.Equal(t, "ERROR cannot follow redir", out.Content())
	assert.Equal(t, http.StatusMovedPermanently, out.StatusCode)
}

func TestFetchUnexpectedStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusNoContent, http.StatusSeeOther} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			tr := &scriptedTransport{responses: map[string]Response{
				"http://a/": {StatusCode: code, Header: http.Header{"Location": {"http://b/"}}},
			}}
			out := newTestFetcher(t, tr, nil).Fetch(context.Background(), "http://a/")
			assert.Equal(t, "ERROR cannot download page", out.Content())
			var statusErr *archive.StatusError
			require.ErrorAs(t, out.Err(), &statusErr)
			assert.Equal(t, code, statusErr.Code)
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{errs: map[string]error{"http://down/": errors.New("connection refused")}}
	out := newTestFetcher(t, tr, nil).Fetch(context.Background(), "http://down/")
	assert.Equal(t, "ERROR connection refused", out.Content())
	assert.Equal(t, 0, out.StatusCode)
}

type countingLimiter struct {
	calls int
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls++
	return l.err
}

func TestFetchWaitsOnLimiterPerHop(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{responses: map[string]Response{
		"http://a/":  redirect("http://a/2"),
		"http://a/2": {StatusCode: http.StatusOK},
	}}
	lim := &countingLimiter{}
	out := newTestFetcher(t, tr, lim).Fetch(context.Background(), "http://a/")
	require.True(t, out.OK())
	assert.Equal(t, 2, lim.calls)

	denied := &countingLimiter{err: errors.New("rate limit wait: context canceled")}
	out = newTestFetcher(t, tr, denied).Fetch(context.Background(), "http://a/")
	assert.Equal(t, "ERROR rate limit wait: context canceled", out.Content())
}

func TestFetchPausesBeforeRedirect(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{responses: map[string]Response{
		"http://a/":  redirect("http://a/2"),
		"http://a/2": {StatusCode: http.StatusOK},
	}}
	f, err := New(tr, nil, Config{RedirectDelay: 30 * time.Millisecond}, nil)
	require.NoError(t, err)

	start := time.Now()
	out := f.Fetch(context.Background(), "http://a/")
	require.True(t, out.OK())
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestFetchPauseCanceled(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{responses: map[string]Response{"http://a/": redirect("http://a/2")}}
	f, err := New(tr, nil, Config{RedirectDelay: time.Hour}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := f.Fetch(ctx, "http://a/")
	require.False(t, out.OK())
	assert.ErrorIs(t, out.Err(), context.DeadlineExceeded)
}

func TestNewRequiresTransport(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, Config{}, nil)
	assert.Error(t, err)
}
