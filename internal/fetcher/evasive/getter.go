// Package evasive implements crawler.PageGetter on top of a single-attempt
// HTTP fetcher. Each Get paces itself, walks scheme and host variants, backs
// off on 429/503 and finally hands the URL to a headless browser.
package evasive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/crawler"
	"github.com/JakeFAU/pnrr-announcements/internal/metrics"
)

const (
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf;q=0.9,*/*;q=0.8"
	defaultAcceptLanguage = "it-IT,it;q=0.9,en-US;q=0.8,en;q=0.7"
	defaultMaxRetries     = 3
	defaultBackoffBase    = 2 * time.Second
)

// errChallenge marks a plain response the detector classified as an anti-bot
// challenge.
var errChallenge = errors.New("anti-bot challenge detected")

// Config tunes the getter.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Tiers          []Tier
	// MaxRetries bounds the 429/503 retries of one variant.
	MaxRetries  int
	BackoffBase time.Duration
}

// Getter implements crawler.PageGetter.
type Getter struct {
	http     crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	pacer    *Pacer
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// Option customizes a Getter.
type Option func(*Getter)

// WithSleeper replaces the sleep used by pacing and backoff.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Getter) {
		g.sleep = sleep
		g.pacer.sleep = sleep
	}
}

// WithClock replaces the pacing clock.
func WithClock(now func() time.Time) Option {
	return func(g *Getter) { g.pacer.now = now }
}

// WithRand replaces the pacing jitter source; it must return values in [0,1).
func WithRand(r func() float64) Option {
	return func(g *Getter) { g.pacer.rand = r }
}

// New wires a Getter. headless and detector may be nil.
func New(
	httpFetcher crawler.Fetcher,
	headless crawler.Fetcher,
	detector crawler.HeadlessDetector,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Getter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = defaultAcceptLanguage
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	g := &Getter{
		http:     httpFetcher,
		headless: headless,
		detector: detector,
		pacer:    NewPacer(cfg.Tiers),
		cfg:      cfg,
		sleep:    sleepContext,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Pacer exposes the shared pacing state.
func (g *Getter) Pacer() *Pacer {
	return g.pacer
}

// Get fetches rawURL, returning a *crawler.FetchError once every strategy has
// failed.
func (g *Getter) Get(ctx context.Context, rawURL, referer string) (crawler.FetchResponse, error) {
	variants, err := Variants(rawURL)
	if err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: rawURL, Err: err}
	}

	attempts := 0
	var lastErr error

variantLoop:
	for _, variant := range variants {
		for retry := 0; ; retry++ {
			if err := ctx.Err(); err != nil {
				return crawler.FetchResponse{}, &crawler.FetchError{URL: rawURL, Attempts: attempts, Err: err}
			}
			resp, err := g.attempt(ctx, variant, referer)
			attempts++
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return crawler.FetchResponse{}, &crawler.FetchError{URL: rawURL, Attempts: attempts, Err: ctxErr}
				}
				g.logger.Debug("variant failed", zap.String("url", variant), zap.Error(err))
				lastErr = err
				continue variantLoop
			}
			if g.detector != nil && g.detector.ShouldPromote(resp) {
				g.logger.Info("challenge page detected, switching to headless",
					zap.String("url", variant), zap.Int("status", resp.StatusCode))
				lastErr = fmt.Errorf("%s: %w", variant, errChallenge)
				break variantLoop
			}
			switch {
			case resp.StatusCode < http.StatusBadRequest:
				return resp, nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
				lastErr = fmt.Errorf("%s: status %d", variant, resp.StatusCode)
				if retry >= g.cfg.MaxRetries {
					g.logger.Warn("backoff retries exhausted",
						zap.String("url", variant), zap.Int("status", resp.StatusCode))
					break variantLoop
				}
				wait := g.backoff(retry)
				metrics.ObserveBackoff(variant)
				g.logger.Debug("backing off", zap.String("url", variant),
					zap.Int("status", resp.StatusCode), zap.Duration("wait", wait))
				if err := g.sleep(ctx, wait); err != nil {
					return crawler.FetchResponse{}, &crawler.FetchError{URL: rawURL, Attempts: attempts, Err: err}
				}
			default:
				lastErr = fmt.Errorf("%s: status %d", variant, resp.StatusCode)
				continue variantLoop
			}
		}
	}

	return g.viaHeadless(ctx, rawURL, referer, attempts, lastErr)
}

func (g *Getter) attempt(ctx context.Context, target, referer string) (crawler.FetchResponse, error) {
	if err := g.pacer.Wait(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer g.pacer.Done()

	resp, err := g.http.Fetch(ctx, crawler.FetchRequest{
		URL:     target,
		Referer: referer,
		Headers: g.headers(),
	})
	if err != nil {
		metrics.ObserveFetch(target, 0, 0)
		return crawler.FetchResponse{}, err
	}
	metrics.ObserveFetch(target, resp.StatusCode, len(resp.Body))
	return resp, nil
}

func (g *Getter) viaHeadless(
	ctx context.Context,
	rawURL, referer string,
	attempts int,
	lastErr error,
) (crawler.FetchResponse, error) {
	if g.headless == nil {
		return crawler.FetchResponse{}, &crawler.FetchError{
			URL:      rawURL,
			Attempts: attempts,
			Err:      errors.Join(lastErr, crawler.ErrHeadlessUnavailable),
		}
	}
	attempts++
	resp, err := g.headless.Fetch(ctx, crawler.FetchRequest{
		URL:     rawURL,
		Referer: referer,
		Headers: g.headers(),
	})
	if err == nil && resp.StatusCode >= http.StatusBadRequest {
		err = fmt.Errorf("headless status %d", resp.StatusCode)
	}
	if err != nil {
		metrics.ObserveHeadless(rawURL, "failure")
		return crawler.FetchResponse{}, &crawler.FetchError{
			URL:      rawURL,
			Attempts: attempts,
			Err:      errors.Join(lastErr, err),
		}
	}
	metrics.ObserveHeadless(rawURL, "success")
	resp.UsedHeadless = true
	return resp, nil
}

func (g *Getter) headers() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", g.cfg.UserAgent)
	h.Set("Accept", defaultAccept)
	h.Set("Accept-Language", g.cfg.AcceptLanguage)
	h.Set("Connection", "keep-alive")
	return h
}

// backoff returns 2^retry * BackoffBase.
func (g *Getter) backoff(retry int) time.Duration {
	return g.cfg.BackoffBase << retry
}
