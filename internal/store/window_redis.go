package store

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/window-limiter/internal/ratelimit"
)

// RedisWindowStore is a Redis implementation of ratelimit.Store backed by one
// sorted set per key. Each batch runs inside MULTI/EXEC, which Redis applies
// without interleaving commands from other clients.
type RedisWindowStore struct {
	client redis.UniversalClient
}

// NewRedisWindowStore creates a new Redis-backed window store.
func NewRedisWindowStore(client redis.UniversalClient) *RedisWindowStore {
	return &RedisWindowStore{client: client}
}

func (r *RedisWindowStore) SubmitWindow(ctx context.Context, batch ratelimit.WindowBatch) (ratelimit.WindowReply, error) {
	member := strconv.FormatInt(batch.Member, 10)

	pipe := r.client.TxPipeline()
	// "(" makes the upper bound exclusive.
	pipe.ZRemRangeByScore(ctx, batch.Key, "0", "("+strconv.FormatInt(batch.PruneBefore, 10))
	card := pipe.ZCard(ctx, batch.Key)
	pipe.ZAdd(ctx, batch.Key, redis.Z{Score: float64(batch.Member), Member: member})

	var oldest *redis.ZSliceCmd
	if batch.WantOldest {
		oldest = pipe.ZRangeWithScores(ctx, batch.Key, 0, 0)
	}

	pipe.PExpire(ctx, batch.Key, batch.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.WindowReply{}, err
	}

	reply := ratelimit.WindowReply{Count: card.Val()}

	if oldest != nil {
		if entries := oldest.Val(); len(entries) > 0 {
			reply.Oldest = int64(entries[0].Score)
			reply.HasOldest = true
		}
	}

	return reply, nil
}

var _ ratelimit.Store = (*RedisWindowStore)(nil)
