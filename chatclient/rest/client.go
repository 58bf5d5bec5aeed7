// Package rest implements the chatclient.Backend interface over the support
// chat HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/supportchat/chatclient"
	"github.com/supportchat/internal/model"
)

// Client talks to the support chat REST API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ chatclient.Backend = (*Client)(nil)

// New creates a REST backend. baseURL is the service root, for example
// "https://support.example.com".
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &chatclient.NetworkError{Op: op, Err: err}
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return &chatclient.NetworkError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &chatclient.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		var inner error
		if apiErr.Error != "" {
			inner = fmt.Errorf("%s", apiErr.Error)
		}
		return &chatclient.NetworkError{Op: op, Status: resp.StatusCode, Err: inner}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &chatclient.NetworkError{Op: op, Err: err}
	}
	return nil
}

// FetchMine returns the caller's own session, creating it on first contact.
func (c *Client) FetchMine(ctx context.Context) (*model.ChatSession, error) {
	var sess model.ChatSession
	if err := c.do(ctx, "fetch mine", http.MethodGet, "/chat/me", nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// FetchAll returns every session. Staff only.
func (c *Client) FetchAll(ctx context.Context) ([]*model.ChatSession, error) {
	var sessions []*model.ChatSession
	if err := c.do(ctx, "fetch all", http.MethodGet, "/chat/all", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

type sendRequest struct {
	Text string `json:"text"`
}

// SendUser appends a customer message to the caller's own session.
func (c *Client) SendUser(ctx context.Context, text string) (*model.ChatSession, error) {
	var sess model.ChatSession
	if err := c.do(ctx, "send", http.MethodPost, "/chat/send", sendRequest{Text: text}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// SendAdmin appends a staff reply to a session. Staff only.
func (c *Client) SendAdmin(ctx context.Context, chatID, text string) (*model.ChatSession, error) {
	var sess model.ChatSession
	path := "/chat/admin/" + chatID
	if err := c.do(ctx, "send admin", http.MethodPost, path, sendRequest{Text: text}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Close ends a session. Staff only.
func (c *Client) Close(ctx context.Context, chatID string) error {
	return c.do(ctx, "close", http.MethodPost, "/chat/"+chatID+"/close", nil, nil)
}

// Continue reopens a closed session.
func (c *Client) Continue(ctx context.Context, chatID string) error {
	return c.do(ctx, "continue", http.MethodPost, "/chat/"+chatID+"/continue", nil, nil)
}

// MarkRead marks every customer message in a session as read. Staff only.
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.do(ctx, "mark read", http.MethodPost, "/chat/"+chatID+"/read", nil, nil)
}
