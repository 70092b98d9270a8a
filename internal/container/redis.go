package container

import (
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
)

// RedisClient owns the shared client so the injector can close it on
// shutdown. Pass Client, not the wrapper, to code expecting a redis client.
type RedisClient struct {
	Client redis.UniversalClient
}

// Shutdown closes the client.
func (c *RedisClient) Shutdown() error {
	return c.Client.Close()
}

// RedisPackage provides the shared Redis client.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*RedisClient, error) {
		options := do.MustInvoke[*Options](i)

		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{options.RedisAddr},
		})

		return &RedisClient{Client: client}, nil
	})
}

func redisClient(i *do.Injector) redis.UniversalClient {
	return do.MustInvoke[*RedisClient](i).Client
}
