package tokens

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "market:approved_ft_tokens"

// Redis keeps the whitelist in a shared set so every marketplace
// instance observes operator approvals immediately.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Add(ctx context.Context, tokenIDs []string) ([]bool, error) {
	added := make([]bool, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		id = strings.TrimSpace(id)
		if id == "" || isNative(id) {
			added = append(added, false)
			continue
		}
		n, err := r.client.SAdd(ctx, r.key, id).Result()
		if err != nil {
			return nil, err
		}
		added = append(added, n == 1)
	}
	return added, nil
}

func (r *Redis) Contains(ctx context.Context, tokenID string) (bool, error) {
	if isNative(tokenID) {
		return true, nil
	}
	return r.client.SIsMember(ctx, r.key, tokenID).Result()
}
