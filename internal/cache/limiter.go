package cache

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"

	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

const limiterPrefix = "wallet-bridge:peer:"

// PeerLimiter bounds the request rate of each dApp peer.
type PeerLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

func NewPeerLimiter(client redis.UniversalClient, perMinute int) *PeerLimiter {
	return &PeerLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.PerMinute(perMinute),
	}
}

func (l *PeerLimiter) Allow(ctx context.Context, peerID string) (bool, error) {
	res, err := l.limiter.Allow(ctx, limiterPrefix+peerID, l.limit)
	if err != nil {
		return false, errors.Wrap(err, "rate limit peer")
	}
	if res.Allowed == 0 {
		log.Debugf("rate limited %s, retry after %v", peerID, res.RetryAfter)
		return false, nil
	}
	return true, nil
}
