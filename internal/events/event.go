// Package events defines the messages emitted when a limiter rejects a call.
package events

import "time"

// TopicLimitRejected carries LimitRejectedEvent messages.
const TopicLimitRejected = "limit.rejected"

// LimitRejectedEvent is published when a check or acquire reports that the
// caller should deny the underlying request.
type LimitRejectedEvent struct {
	Key        string    `json:"key"`
	Identifier string    `json:"identifier"`
	Count      int64     `json:"count"`
	Max        int64     `json:"max"`
	DurationMs int64     `json:"durationMs"`
	Instance   string    `json:"instance"`
	ClientIP   string    `json:"clientIp,omitempty"`
	RejectedAt time.Time `json:"rejectedAt"`
}
