package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/serroba/window-limiter/internal/clock"
)

const (
	// DefaultMax is the number of events allowed per window when none is configured.
	DefaultMax int64 = 3600
	// DefaultDuration is the window length when none is configured.
	DefaultDuration = time.Hour
	// DefaultNamespace prefixes every key when none is configured.
	DefaultNamespace = "limit"
	// MaxDurationMs is the longest window, in milliseconds, a time.Duration can hold.
	MaxDurationMs = math.MaxInt64 / int64(time.Millisecond)
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Check records an event and reports the quota state seen before it.
	Check(ctx context.Context, opts CheckOptions) (Result, error)
	// Acquire records an event and reports whether it fits in the quota.
	Acquire(ctx context.Context, opts CheckOptions) (bool, error)
}

// Clock returns unique, increasing unix microsecond timestamps.
type Clock interface {
	Now() int64
}

// Config holds the defaults of a SlidingWindowLimiter.
type Config struct {
	Identifier string
	Max        int64
	Duration   time.Duration
	Namespace  string
}

// CheckOptions overrides the limiter defaults for a single call.
// Zero values fall back to the defaults.
type CheckOptions struct {
	Identifier string
	Max        int64
	Duration   time.Duration
	// WantReset asks for Reset and ResetMs, which costs one extra read
	// inside the batch.
	WantReset bool
}

// Result is the quota state observed by a Check call. Count excludes the
// event the call itself recorded.
type Result struct {
	Count     int64 `json:"count"`
	Remaining int64 `json:"remaining"`
	Total     int64 `json:"total"`
	OK        bool  `json:"ok"`
	// Reset and ResetMs are the epoch seconds and milliseconds at which the
	// oldest event in the window expires. Zero unless requested.
	Reset   int64 `json:"reset,omitempty"`
	ResetMs int64 `json:"resetMs,omitempty"`
}

// Option configures a SlidingWindowLimiter.
type Option func(*SlidingWindowLimiter)

// WithClock replaces the default microsecond clock.
func WithClock(c Clock) Option {
	return func(l *SlidingWindowLimiter) {
		l.clock = c
	}
}

// SlidingWindowLimiter implements rate limiting using a sliding window algorithm.
// All state lives in the Store; the limiter only holds its defaults.
type SlidingWindowLimiter struct {
	store     Store
	clock     Clock
	id        string
	max       int64
	duration  time.Duration
	namespace string
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
func NewSlidingWindowLimiter(store Store, cfg Config, opts ...Option) (*SlidingWindowLimiter, error) {
	if store == nil {
		return nil, &ValidationError{Field: "store", Reason: "is required"}
	}

	if cfg.Identifier == "" {
		return nil, &ValidationError{Field: "identifier", Reason: "is required"}
	}

	if cfg.Max == 0 {
		cfg.Max = DefaultMax
	}

	if cfg.Duration == 0 {
		cfg.Duration = DefaultDuration
	}

	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}

	l := &SlidingWindowLimiter{
		store:     store,
		clock:     clock.New(),
		id:        cfg.Identifier,
		max:       cfg.Max,
		duration:  cfg.Duration,
		namespace: cfg.Namespace,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Check records one event for the effective identifier and returns the
// quota state. A Result with OK false is not an error; the event is recorded
// regardless.
func (l *SlidingWindowLimiter) Check(ctx context.Context, opts CheckOptions) (Result, error) {
	id, limit, window, err := l.resolve(opts)
	if err != nil {
		return Result{}, err
	}

	reply, now, err := l.submit(ctx, id, window, opts.WantReset)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Count: reply.Count,
		Total: limit,
		OK:    reply.Count < limit,
	}

	if res.OK {
		res.Remaining = limit - reply.Count
	}

	if opts.WantReset {
		oldest := now
		if reply.HasOldest {
			oldest = reply.Oldest
		}

		expiry := oldest + window.Milliseconds()*1000
		res.Reset = expiry / 1_000_000
		res.ResetMs = expiry / 1000
	}

	return res, nil
}

// CheckID is Check with only the identifier overridden.
func (l *SlidingWindowLimiter) CheckID(ctx context.Context, id string) (Result, error) {
	return l.Check(ctx, CheckOptions{Identifier: id})
}

// Acquire records one event and reports whether it was within the quota.
// It never reads the oldest entry, so WantReset is ignored.
func (l *SlidingWindowLimiter) Acquire(ctx context.Context, opts CheckOptions) (bool, error) {
	id, limit, window, err := l.resolve(opts)
	if err != nil {
		return false, err
	}

	reply, _, err := l.submit(ctx, id, window, false)
	if err != nil {
		return false, err
	}

	return reply.Count < limit, nil
}

// Allow checks if a request from the given key should be allowed under the
// default max and duration.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.Acquire(ctx, CheckOptions{Identifier: key})
}

// Defaults returns the configuration applied when a call has no overrides.
func (l *SlidingWindowLimiter) Defaults() Config {
	return Config{
		Identifier: l.id,
		Max:        l.max,
		Duration:   l.duration,
		Namespace:  l.namespace,
	}
}

// Key returns the ordered-set key used for an identifier.
func (l *SlidingWindowLimiter) Key(id string) string {
	return l.namespace + ":" + id
}

func (l *SlidingWindowLimiter) resolve(opts CheckOptions) (string, int64, time.Duration, error) {
	id := l.id
	if opts.Identifier != "" {
		id = opts.Identifier
	}

	limit := l.max
	if opts.Max != 0 {
		limit = opts.Max
	}

	window := l.duration
	if opts.Duration != 0 {
		window = opts.Duration
	}

	switch {
	case id == "":
		return "", 0, 0, &ValidationError{Field: "identifier", Reason: "is required"}
	case limit <= 0:
		return "", 0, 0, &ValidationError{Field: "max", Reason: "must be positive"}
	case window.Milliseconds() <= 0:
		return "", 0, 0, &ValidationError{Field: "duration", Reason: "must be at least 1ms"}
	}

	return id, limit, window, nil
}

func (l *SlidingWindowLimiter) submit(
	ctx context.Context, id string, window time.Duration, wantOldest bool,
) (WindowReply, int64, error) {
	now := l.clock.Now()

	reply, err := l.store.SubmitWindow(ctx, WindowBatch{
		Key:         l.Key(id),
		PruneBefore: now - window.Milliseconds()*1000,
		Member:      now,
		TTL:         window,
		WantOldest:  wantOldest,
	})

	return reply, now, err
}

// DurationFromMillis converts a window length in milliseconds. Values whose
// magnitude exceeds MaxDurationMs are rejected instead of wrapping around.
func DurationFromMillis(ms int64) (time.Duration, error) {
	if ms > MaxDurationMs || ms < -MaxDurationMs {
		return 0, &ValidationError{Field: "duration", Reason: "is too large"}
	}

	return time.Duration(ms) * time.Millisecond, nil
}
