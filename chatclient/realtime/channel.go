// Package realtime provides the WebSocket implementation of the
// chatclient.Channel interface.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/supportchat/chatclient"
	"github.com/supportchat/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 64
)

// envelope is an event on the wire: a type field plus the event's own fields
// (inbound) or a nested payload (outbound from the server).
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Conn is a WebSocket connection speaking the support chat event protocol.
// The read pump dispatches inbound events to On handlers; Emit queues
// outbound events for the write pump.
type Conn struct {
	conn *websocket.Conn
	send chan []byte

	hmu      sync.RWMutex
	handlers map[string]func(json.RawMessage)

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ chatclient.Channel = (*Conn)(nil)

// Dial connects to the service's /ws endpoint. rawURL may use the http(s) or
// ws(s) scheme; token is the caller's bearer token.
func Dial(ctx context.Context, rawURL, token string) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("realtime: dial %s: status %d: %w", u.String(), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", u.String(), err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	c := &Conn{
		conn:     ws,
		send:     make(chan []byte, sendBufSize),
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
	return c, nil
}

// On registers the handler for an event type, replacing any previous one.
// Handlers run on the read pump goroutine and must not block.
func (c *Conn) On(event string, fn func(payload json.RawMessage)) {
	c.hmu.Lock()
	c.handlers[event] = fn
	c.hmu.Unlock()
}

// Off removes the handler for an event type.
func (c *Conn) Off(event string) {
	c.hmu.Lock()
	delete(c.handlers, event)
	c.hmu.Unlock()
}

// Emit queues an event. The payload's fields are flattened next to the type
// field, matching what the server expects.
func (c *Conn) Emit(event string, payload any) error {
	fields := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("realtime: marshal %s payload: %w", event, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("realtime: %s payload must be an object: %w", event, err)
		}
	}
	fields["type"] = event
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s: %w", event, err)
	}

	select {
	case <-c.done:
		return fmt.Errorf("realtime: emit %s: connection closed", event)
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("realtime: emit %s: connection closed", event)
	case <-time.After(writeWait):
		return fmt.Errorf("realtime: emit %s: send buffer full", event)
	}
}

// JoinRoom subscribes this connection to a conversation's events.
func (c *Conn) JoinRoom(roomID string) error {
	return c.Emit("joinRoom", map[string]string{"room_id": roomID})
}

// Close shuts the connection down and waits for both pumps to exit.
// Safe to call multiple times.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	c.wg.Wait()
	return nil
}

func (c *Conn) readPump() {
	defer c.wg.Done()
	defer func() {
		c.once.Do(func() {
			close(c.done)
			c.conn.Close()
		})
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPingHandler(func(appData string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				select {
				case <-c.done:
				default:
					logger.Errorf("realtime read: %v", err)
				}
			}
			return
		}

		var ev envelope
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("realtime decode: %v", err)
			continue
		}
		c.hmu.RLock()
		fn := c.handlers[ev.Type]
		c.hmu.RUnlock()
		if fn != nil {
			fn(ev.Payload)
		}
	}
}

func (c *Conn) writePump() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(writeWait)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
