package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Subscriptions expire after 30 days without renewal; browsers rotate
// endpoints and stale entries would otherwise accumulate forever.
const (
	subsKeyPrefix   = "push:subs:"
	subscriptionTTL = 30 * 24 * time.Hour
	maxSubsPerUser  = 10
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// AddSubscription stores a subscription under push:subs:{userID}, keyed by
// endpoint. A user is capped at maxSubsPerUser devices.
func (c *Client) AddSubscription(ctx context.Context, userID, endpoint, data string) error {
	key := subsKeyPrefix + userID
	n, err := c.cli.HLen(ctx, key).Result()
	if err != nil {
		return err
	}
	if n >= maxSubsPerUser {
		exists, err := c.cli.HExists(ctx, key, endpoint).Result()
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("subscription limit reached for user %s", userID)
		}
	}
	if err := c.cli.HSet(ctx, key, endpoint, data).Err(); err != nil {
		return err
	}
	return c.cli.Expire(ctx, key, subscriptionTTL).Err()
}

// ListSubscriptions returns the raw subscription JSON blobs for a user.
func (c *Client) ListSubscriptions(ctx context.Context, userID string) ([]string, error) {
	vals, err := c.cli.HVals(ctx, subsKeyPrefix+userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return vals, err
}

// RemoveSubscription deletes one subscription by endpoint.
func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	return c.cli.HDel(ctx, subsKeyPrefix+userID, endpoint).Err()
}
