package storage

import "context"

// SubscriptionStore keeps web-push subscriptions per user.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
// Subscriptions are stored as raw JSON keyed by their endpoint so the store
// stays independent of the push library's types.
type SubscriptionStore interface {
	AddSubscription(ctx context.Context, userID, endpoint, data string) error
	ListSubscriptions(ctx context.Context, userID string) ([]string, error)
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
	Close() error
}
