// ABOUTME: Release year resolver with an in-memory cache
// ABOUTME: De-duplicates, rate limits and bounds lookups against a provider
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrLookupUnavailable is returned when no provider is configured
var ErrLookupUnavailable = errors.New("release year lookup unavailable")

// Lookup fetches the release year of a track from an external source
type Lookup interface {
	ReleaseYear(ctx context.Context, trackID string) (string, error)
}

// None is the Lookup used when no provider is configured
type None struct{}

func (None) ReleaseYear(context.Context, string) (string, error) {
	return "", ErrLookupUnavailable
}

// ResolverConfig holds resolver settings
type ResolverConfig struct {
	Lookup Lookup
	// RequestsPerSecond caps provider calls; zero means unlimited
	RequestsPerSecond float64
	// Timeout bounds a single lookup
	Timeout time.Duration
	Logger  *log.Logger
}

// Resolver caches release years by track ID. Only successful lookups are
// cached, so a failed track is retried on its next request.
type Resolver struct {
	lookup  Lookup
	limiter *rate.Limiter
	timeout time.Duration
	logger  *log.Logger
	group   singleflight.Group

	mu    sync.RWMutex
	years map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResolver creates a resolver around a provider
func NewResolver(config ResolverConfig) *Resolver {
	if config.Lookup == nil {
		config.Lookup = None{}
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Resolver{
		lookup:  config.Lookup,
		limiter: rate.NewLimiter(limit, 1),
		timeout: config.Timeout,
		logger:  logger.With("component", "metadata"),
		years:   make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Cached returns a previously resolved year
func (r *Resolver) Cached(trackID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	year, ok := r.years[trackID]
	return year, ok
}

// Resolve returns the year for a track, consulting the provider on a miss.
// Concurrent calls for the same track share one provider call.
func (r *Resolver) Resolve(ctx context.Context, trackID string) (string, error) {
	if trackID == "" {
		return "", fmt.Errorf("empty track id")
	}
	if year, ok := r.Cached(trackID); ok {
		return year, nil
	}

	v, err, _ := r.group.Do(trackID, func() (interface{}, error) {
		if year, ok := r.Cached(trackID); ok {
			return year, nil
		}

		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limited: %w", err)
		}

		year, err := r.lookup.ReleaseYear(ctx, trackID)
		if err != nil {
			return "", err
		}

		r.mu.Lock()
		r.years[trackID] = year
		r.mu.Unlock()
		return year, nil
	})
	if err != nil {
		return "", fmt.Errorf("release year for %s: %w", trackID, err)
	}
	return v.(string), nil
}

// Prefetch resolves a track in the background. Failures are logged and
// leave the cache untouched.
func (r *Resolver) Prefetch(trackID string) {
	if trackID == "" {
		return
	}
	if _, ok := r.Cached(trackID); ok {
		return
	}
	if r.ctx.Err() != nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		year, err := r.Resolve(r.ctx, trackID)
		if err != nil {
			if !errors.Is(err, ErrLookupUnavailable) {
				r.logger.Warn("release year lookup failed", "track", trackID, "err", err)
			}
			return
		}
		r.logger.Debug("release year resolved", "track", trackID, "year", year)
	}()
}

// Close cancels outstanding prefetches and waits for them to return
func (r *Resolver) Close() {
	r.cancel()
	r.wg.Wait()
}
