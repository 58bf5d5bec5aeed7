// Package push delivers Web Push notifications (VAPID) for messages that
// arrive while the recipient has no open socket.
package push

import (
	"context"
	"encoding/json"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/storage"
)

// Subscription is the push subscription as sent by the browser.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Notifier stores subscriptions and sends notifications. With empty VAPID
// keys subscriptions are still recorded but nothing is sent.
type Notifier struct {
	store storage.SubscriptionStore
	vapid *webpush.Options
}

func NewNotifier(store storage.SubscriptionStore, vapidPublic, vapidPrivate string) *Notifier {
	var opts *webpush.Options
	if vapidPublic != "" && vapidPrivate != "" {
		opts = &webpush.Options{
			Subscriber:      "supportchat",
			VAPIDPublicKey:  vapidPublic,
			VAPIDPrivateKey: vapidPrivate,
			TTL:             30,
		}
	}
	return &Notifier{store: store, vapid: opts}
}

// Enabled reports whether notifications will actually be sent.
func (n *Notifier) Enabled() bool { return n.vapid != nil }

// Preview shortens a message text to fit a notification body. Cuts on a rune
// boundary so multi-byte text stays valid UTF-8.
func Preview(text string) string {
	const max = 120
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max-3]) + "..."
}

// Subscribe records a browser subscription for a user.
func (n *Notifier) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return n.store.AddSubscription(ctx, userID, sub.Endpoint, string(data))
}

// Unsubscribe removes one subscription by endpoint.
func (n *Notifier) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return n.store.RemoveSubscription(ctx, userID, endpoint)
}

type payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify sends a notification to every device of a user. Errors are logged,
// not returned: push delivery is best effort and must never fail a message.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if n.vapid == nil {
		return
	}
	subs, err := n.store.ListSubscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push list subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	msg, err := json.Marshal(payload{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push marshal payload: %v", err)
		return
	}
	for _, raw := range subs {
		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			logger.Errorf("push bad subscription user=%s: %v", userID, err)
			continue
		}
		resp, err := webpush.SendNotificationWithContext(ctx, msg, &sub, n.vapid)
		if err != nil {
			logger.Errorf("push send user=%s: %v", userID, err)
			continue
		}
		// Gone endpoints are pruned so dead devices stop accumulating.
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			if err := n.store.RemoveSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push prune subscription user=%s: %v", userID, err)
			}
		}
		resp.Body.Close()
	}
}
