package ratelimit

import (
	"context"
	"time"
)

// WindowBatch describes one atomic round trip against a key's ordered set.
//
// A Store applies the steps in this fixed order, with no other batch on the
// same key interleaving:
//  1. remove members scored in [0, PruneBefore)
//  2. read the cardinality
//  3. add Member with score Member
//  4. when WantOldest is set, read the lowest-scored member
//  5. set the key's expiry to TTL
type WindowBatch struct {
	Key         string
	PruneBefore int64
	Member      int64
	TTL         time.Duration
	WantOldest  bool
}

// WindowReply carries the step results of a WindowBatch.
type WindowReply struct {
	// Count is the cardinality read after pruning and before insertion.
	Count int64
	// Oldest is the lowest score after insertion. Only set when HasOldest is true.
	Oldest    int64
	HasOldest bool
}

// Store defines the interface for rate limit data storage.
type Store interface {
	// SubmitWindow executes the batch atomically. Errors are returned as
	// produced by the underlying client.
	SubmitWindow(ctx context.Context, batch WindowBatch) (WindowReply, error)
}
