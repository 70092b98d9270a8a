package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/window-limiter/internal/events"
	"github.com/serroba/window-limiter/internal/messaging"
	"github.com/serroba/window-limiter/internal/metrics"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"go.uber.org/zap"
)

const sourceAPI = "api"

// Limiter is the limiter surface the API needs.
type Limiter interface {
	ratelimit.Limiter
	Defaults() ratelimit.Config
	Key(id string) string
}

// LimitHandler exposes check and acquire over HTTP.
type LimitHandler struct {
	limiter         Limiter
	publishRejected messaging.Publish[events.LimitRejectedEvent]
	collectors      *metrics.Collectors
	instance        string
	logger          *zap.Logger
}

// NewLimitHandler creates a new limit handler. instance identifies this
// process on published events.
func NewLimitHandler(
	limiter Limiter,
	publishRejected messaging.Publish[events.LimitRejectedEvent],
	collectors *metrics.Collectors,
	instance string,
	logger *zap.Logger,
) *LimitHandler {
	return &LimitHandler{
		limiter:         limiter,
		publishRejected: publishRejected,
		collectors:      collectors,
		instance:        instance,
		logger:          logger,
	}
}

func (h *LimitHandler) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	opts, err := checkOptions(req.Identifier, req.Body)
	if err != nil {
		return nil, h.mapError(req.Identifier, err)
	}

	res, err := h.limiter.Check(ctx, opts)
	if err != nil {
		return nil, h.mapError(req.Identifier, err)
	}

	h.collectors.ObserveDecision(sourceAPI, res.OK)

	if !res.OK {
		h.publish(ctx, opts, res.Count)
	}

	resp := &CheckResponse{
		Limit:     res.Total,
		Remaining: res.Remaining,
		Body:      res,
	}

	if res.Reset != 0 {
		resp.Reset = strconv.FormatInt(res.Reset, 10)
	}

	return resp, nil
}

func (h *LimitHandler) Acquire(ctx context.Context, req *AcquireRequest) (*AcquireResponse, error) {
	opts, err := checkOptions(req.Identifier, req.Body)
	if err != nil {
		return nil, h.mapError(req.Identifier, err)
	}

	opts.WantReset = false

	allowed, err := h.limiter.Acquire(ctx, opts)
	if err != nil {
		return nil, h.mapError(req.Identifier, err)
	}

	h.collectors.ObserveDecision(sourceAPI, allowed)

	if !allowed {
		// Acquire does not report the count, so the event carries the max it reached.
		h.publish(ctx, opts, h.effective(opts).Max)
	}

	resp := &AcquireResponse{}
	resp.Body.Allowed = allowed

	return resp, nil
}

func checkOptions(id string, body *LimitBody) (ratelimit.CheckOptions, error) {
	opts := ratelimit.CheckOptions{Identifier: id}
	if body == nil {
		return opts, nil
	}

	duration, err := ratelimit.DurationFromMillis(body.DurationMs)
	if err != nil {
		return opts, err
	}

	opts.Max = body.Max
	opts.Duration = duration
	opts.WantReset = body.Reset

	return opts, nil
}

func (h *LimitHandler) effective(opts ratelimit.CheckOptions) ratelimit.Config {
	cfg := h.limiter.Defaults()

	if opts.Max != 0 {
		cfg.Max = opts.Max
	}

	if opts.Duration != 0 {
		cfg.Duration = opts.Duration
	}

	return cfg
}

func (h *LimitHandler) publish(ctx context.Context, opts ratelimit.CheckOptions, count int64) {
	cfg := h.effective(opts)
	meta := RequestMetaFromContext(ctx)

	event := &events.LimitRejectedEvent{
		Key:        h.limiter.Key(opts.Identifier),
		Identifier: opts.Identifier,
		Count:      count,
		Max:        cfg.Max,
		DurationMs: cfg.Duration.Milliseconds(),
		Instance:   h.instance,
		ClientIP:   meta.ClientIP,
		RejectedAt: time.Now(),
	}

	if err := h.publishRejected(ctx, event); err != nil {
		h.logger.Error("failed to publish rejection event",
			zap.String("key", event.Key),
			zap.Error(err),
		)
	}
}

func (h *LimitHandler) mapError(id string, err error) error {
	var vErr *ratelimit.ValidationError
	if errors.As(err, &vErr) {
		return huma.Error400BadRequest(vErr.Error())
	}

	h.logger.Error("limit check failed", zap.String("identifier", id), zap.Error(err))

	return huma.Error500InternalServerError("limit check failed")
}
