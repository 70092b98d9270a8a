package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/window-limiter/internal/ratelimit"
)

// RegisterRoutes registers the limit API with per-endpoint rate limit configuration.
func RegisterRoutes(api huma.API, h *LimitHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "check-limit",
		Method:      http.MethodPost,
		Path:        "/v1/limits/{identifier}/check",
		Summary:     "Check a limit",
		Description: "Records one event for the identifier and returns the quota state seen before it.",
		Tags:        []string{"Limits"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeRead},
		},
	}, h.Check)

	huma.Register(api, huma.Operation{
		OperationID: "acquire-limit",
		Method:      http.MethodPost,
		Path:        "/v1/limits/{identifier}/acquire",
		Summary:     "Acquire a slot",
		Description: "Records one event for the identifier and reports whether it fit in the quota.",
		Tags:        []string{"Limits"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeWrite},
		},
	}, h.Acquire)
}
