package memory

import (
	"context"
	"sync"
	"time"
)

const (
	subscriptionTTL = 30 * 24 * time.Hour
	maxSubsPerUser  = 10
)

type item struct {
	val string
	exp time.Time
}

// Client is the in-memory SubscriptionStore used by -dev runs and tests.
type Client struct {
	mu   sync.RWMutex
	subs map[string]map[string]item // userID -> endpoint -> subscription
}

func New() *Client {
	return &Client{subs: make(map[string]map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) AddSubscription(ctx context.Context, userID, endpoint, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.subs[userID]
	if !ok {
		m = make(map[string]item)
		c.subs[userID] = m
	}
	if _, exists := m[endpoint]; !exists && len(m) >= maxSubsPerUser {
		return nil
	}
	m[endpoint] = item{val: data, exp: time.Now().Add(subscriptionTTL)}
	return nil
}

func (c *Client) ListSubscriptions(ctx context.Context, userID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.subs[userID]
	if len(m) == 0 {
		return nil, nil
	}
	now := time.Now()
	out := make([]string, 0, len(m))
	for _, it := range m {
		if now.After(it.exp) {
			continue
		}
		out = append(out, it.val)
	}
	return out, nil
}

func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.subs[userID]; ok {
		delete(m, endpoint)
		if len(m) == 0 {
			delete(c.subs, userID)
		}
	}
	return nil
}
