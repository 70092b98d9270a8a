package handlers

import "github.com/serroba/window-limiter/internal/ratelimit"

// LimitBody carries the per-call overrides. Omitted fields use the limiter defaults.
type LimitBody struct {
	Max        int64 `doc:"Events allowed in the window"     example:"100"   json:"max,omitempty"`
	DurationMs int64 `doc:"Window length in milliseconds"    example:"60000" json:"durationMs,omitempty"`
	Reset      bool  `doc:"Include reset and resetMs fields" json:"reset,omitempty"`
}

// CheckRequest is the request for recording an event and reading the quota state.
type CheckRequest struct {
	Identifier string `doc:"The entity being limited" example:"user-42" maxLength:"512" minLength:"1" path:"identifier"`
	Body       *LimitBody
}

// CheckResponse carries the quota state seen before the recorded event.
type CheckResponse struct {
	Limit     int64  `doc:"Events allowed in the window"                   header:"X-RateLimit-Limit"`
	Remaining int64  `doc:"Events left before the limit is reached"        header:"X-RateLimit-Remaining"`
	Reset     string `doc:"Epoch second at which the oldest event expires" header:"X-RateLimit-Reset"`
	Body      ratelimit.Result
}

// AcquireRequest is the request for recording an event and getting a yes/no decision.
type AcquireRequest struct {
	Identifier string `doc:"The entity being limited" example:"user-42" maxLength:"512" minLength:"1" path:"identifier"`
	Body       *LimitBody
}

// AcquireResponse reports whether the recorded event fit in the quota.
type AcquireResponse struct {
	Body struct {
		Allowed bool `doc:"Whether the caller may proceed" json:"allowed"`
	}
}
