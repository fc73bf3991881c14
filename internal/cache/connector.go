package cache

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"

	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

// NewRedis connects to the configured redis and pings it.
func NewRedis(ctx context.Context, cred *config.DBCredential) (*redis.Client, error) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	client := redis.NewClient(&redis.Options{
		Addr:     cred.GetRedisAddress(),
		Password: cred.Password,
		DB:       int(db),
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.WrapAndReport(err, "ping to redis")
	}
	log.Infof("redis connected to %s", cred.GetRedisAddress())
	return client, nil
}

// DeleteFromPrefix removes every key starting with prefix.
func DeleteFromPrefix(ctx context.Context, client redis.UniversalClient, prefix string) error {
	var (
		cursor uint64
		match        = prefix + "*"
		count  int64 = 200
	)
	log.Debugf("deleting cache pattern %v", match)
	for {
		keys, c, err := client.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return errors.WrapAndReport(err, "scan caches")
		}
		cursor = c
		if len(keys) > 0 {
			err = client.Del(ctx, keys...).Err()
			if err != nil {
				return errors.WrapAndReport(err, "delete caches")
			}
		}
		if c == 0 {
			return nil
		}
	}
}
