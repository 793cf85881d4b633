// Package fetcher resolves a post URL into an archive.Outcome, following
// HTTP redirects itself so the hop bound and pacing stay under its control.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/metrics"
)

// Defaults applied when Config leaves a value unset.
const (
	DefaultMaxRedirects  = 16
	DefaultRedirectDelay = time.Second
)

// Response is a single, unfollowed HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs exactly one GET and must not follow redirects.
type Transport interface {
	Get(ctx context.Context, rawURL string) (Response, error)
}

// Limiter gates requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls redirect handling.
type Config struct {
	// MaxRedirects is the number of redirect hops followed before giving up.
	MaxRedirects int
	// RedirectDelay is the pause taken before following each redirect.
	// A negative value disables the pause.
	RedirectDelay time.Duration
}

// Fetcher implements archive.Fetcher on top of a Transport.
type Fetcher struct {
	transport Transport
	limiter   Limiter
	cfg       Config
	logger    *zap.Logger
}

// New builds a Fetcher. limiter may be nil.
func New(transport Transport, limiter Limiter, cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.RedirectDelay == 0 {
		cfg.RedirectDelay = DefaultRedirectDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		transport: transport,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Fetch GETs rawURL, following up to MaxRedirects 301/302 hops. Every failure
// is returned as a failed Outcome.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) archive.Outcome {
	current := rawURL
	for hops := 0; ; hops++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, current); err != nil {
				return failure(err, hops, 0)
			}
		}

		f.logger.Info("GET", zap.String("url", current), zap.Int("hop", hops))
		start := time.Now()
		resp, err := f.transport.Get(ctx, current)
		if err != nil {
			metrics.ObserveFetch(current, 0, time.Since(start))
			f.logger.Warn("fetch failed", zap.String("url", current), zap.Error(err))
			return failure(err, hops, 0)
		}
		metrics.ObserveFetch(current, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			out := archive.Success(string(resp.Body))
			out.Hops = hops
			return out
		case http.StatusMovedPermanently, http.StatusFound:
			location := resp.Header.Get("Location")
			if location == "" {
				f.logger.Warn("cannot follow redirect", zap.String("url", current))
				return failure(archive.ErrNoRedirectTarget, hops, resp.StatusCode)
			}
			if hops >= f.cfg.MaxRedirects {
				f.logger.Warn("too many redirections", zap.String("url", current), zap.Int("hop", hops))
				return failure(archive.ErrTooManyRedirects, hops, resp.StatusCode)
			}
			next, err := resolve(current, location)
			if err != nil {
				return failure(err, hops, resp.StatusCode)
			}
			metrics.ObserveRedirect()
			if err := f.pause(ctx); err != nil {
				return failure(err, hops, resp.StatusCode)
			}
			current = next
		default:
			f.logger.Warn("cannot download page", zap.String("url", current), zap.Int("status", resp.StatusCode))
			return failure(&archive.StatusError{Code: resp.StatusCode}, hops, resp.StatusCode)
		}
	}
}

func (f *Fetcher) pause(ctx context.Context) error {
	if f.cfg.RedirectDelay <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redirect pause canceled: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(f.cfg.RedirectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("redirect pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func failure(err error, hops, status int) archive.Outcome {
	out := archive.Failure(err)
	out.Hops = hops
	out.StatusCode = status
	return out
}

func resolve(base, location string) (string, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse redirect location %q: %w", location, err)
	}
	if loc.IsAbs() {
		return loc.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse redirect base %q: %w", base, err)
	}
	return b.ResolveReference(loc).String(), nil
}
