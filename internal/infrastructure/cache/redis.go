package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"corebank/internal/config"
	"corebank/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logrus.WithField("addr", client.Options().Addr).Info("redis connected")
	return client, nil
}

func getJSON(ctx context.Context, rdb redis.Cmdable, key string, dest any) (bool, error) {
	val, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, json.Unmarshal(val, dest)
}

func setJSON(ctx context.Context, rdb redis.Cmdable, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, b, ttl).Err()
}

// AccountCache keeps account snapshots in Redis for read endpoints. Cache
// errors are logged and treated as misses.
type AccountCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	log *logrus.Entry
}

func NewAccountCache(rdb redis.Cmdable, ttl time.Duration) *AccountCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AccountCache{rdb: rdb, ttl: ttl, log: logrus.WithField("component", "account_cache")}
}

func accountKey(id int64) string {
	return fmt.Sprintf("corebank:account:%d", id)
}

func (c *AccountCache) GetAccount(ctx context.Context, id int64) (*model.Account, bool) {
	var account model.Account
	ok, err := getJSON(ctx, c.rdb, accountKey(id), &account)
	if err != nil {
		c.log.WithError(err).WithField("account_id", id).Warn("cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &account, true
}

func (c *AccountCache) SetAccount(ctx context.Context, account *model.Account) {
	if err := setJSON(ctx, c.rdb, accountKey(account.ID), account, c.ttl); err != nil {
		c.log.WithError(err).WithField("account_id", account.ID).Warn("cache write failed")
	}
}

func (c *AccountCache) Invalidate(ctx context.Context, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, accountKey(id))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.WithError(err).WithField("account_ids", ids).Warn("cache invalidation failed")
	}
}
