package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"example.com/depot/services/bagtrack/config"
	"example.com/depot/services/bagtrack/internal/model"
)

// statisticsKey is the single key holding the dashboard statistics snapshot
const statisticsKey = "bagtrack:statistics"

// CacheClient defines the interface for cache operations
type CacheClient interface {
	GetStatistics(ctx context.Context) (*model.StatisticsCache, error)
	SetStatistics(ctx context.Context, stats *model.StatisticsCache) error
	InvalidateStatistics(ctx context.Context) error

	GetBill(ctx context.Context, number string) (*model.Bill, error)
	SetBill(ctx context.Context, bill *model.Bill) error
	InvalidateBill(ctx context.Context, number string) error
}

// RedisClient implements CacheClient using Redis
type RedisClient struct {
	client  *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig) (CacheClient, error) {
	if !cfg.Enabled {
		return &RedisClient{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &RedisClient{
		client:  client,
		enabled: true,
		ttl:     ttl,
	}, nil
}

// NewDisabledClient returns a no-op cache, used when Redis is off and in tests
func NewDisabledClient() CacheClient {
	return &RedisClient{enabled: false}
}

func billKey(number string) string {
	return fmt.Sprintf("bagtrack:bill:%s", number)
}

// GetStatistics retrieves the statistics snapshot from cache
func (c *RedisClient) GetStatistics(ctx context.Context) (*model.StatisticsCache, error) {
	if !c.enabled {
		return nil, redis.Nil
	}

	data, err := c.client.Get(ctx, statisticsKey).Bytes()
	if err != nil {
		return nil, err
	}

	var stats model.StatisticsCache
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}

	return &stats, nil
}

// SetStatistics caches the statistics snapshot
func (c *RedisClient) SetStatistics(ctx context.Context, stats *model.StatisticsCache) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, statisticsKey, data, c.ttl).Err()
}

// InvalidateStatistics drops the cached snapshot after a refresh
func (c *RedisClient) InvalidateStatistics(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	return c.client.Del(ctx, statisticsKey).Err()
}

// GetBill retrieves a bill from cache
func (c *RedisClient) GetBill(ctx context.Context, number string) (*model.Bill, error) {
	if !c.enabled {
		return nil, redis.Nil
	}

	data, err := c.client.Get(ctx, billKey(number)).Bytes()
	if err != nil {
		return nil, err
	}

	var bill model.Bill
	if err := json.Unmarshal(data, &bill); err != nil {
		return nil, err
	}

	return &bill, nil
}

// SetBill caches a bill
func (c *RedisClient) SetBill(ctx context.Context, bill *model.Bill) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(bill)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, billKey(bill.Number), data, c.ttl).Err()
}

// InvalidateBill drops a cached bill after a mutation
func (c *RedisClient) InvalidateBill(ctx context.Context, number string) error {
	if !c.enabled {
		return nil
	}

	return c.client.Del(ctx, billKey(number)).Err()
}
