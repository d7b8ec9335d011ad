package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dealerchat-backend/internal/model"
)

// Client calls the out-of-band request/response operations. It works without
// a live channel, which makes it the fallback send path when the channel is
// degraded and the reconciliation source after a reconnect.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Send posts one message and returns the stored message with its
// server-assigned id and timestamp.
func (c *Client) Send(ctx context.Context, receiverID, body string) (*model.Message, error) {
	payload, _ := json.Marshal(model.SendRequest{ReceiverID: receiverID, Body: body})

	var msg model.Message
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/chat/messages", payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// History fetches a conversation's full log in timestamp order.
func (c *Client) History(ctx context.Context, conversationID string) ([]model.Message, error) {
	return c.history(ctx, url.Values{"conversationId": {conversationID}})
}

// HistoryForUser fetches the log of the thread owned by the given user. A
// storefront client passes its own id; the server resolves the thread from
// the authenticated identity anyway.
func (c *Client) HistoryForUser(ctx context.Context, userID string) ([]model.Message, error) {
	return c.history(ctx, url.Values{"userId": {userID}})
}

func (c *Client) history(ctx context.Context, query url.Values) ([]model.Message, error) {
	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	path := "/api/v1/chat/history?" + query.Encode()
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MarkRead flags the counterparty's messages in the conversation as read.
// Safe to call repeatedly.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/api/v1/chat/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.doRequest(ctx, http.MethodPut, path, nil, nil)
}

// ListConversations returns the back-office directory with live unread
// counts and previews.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/chat/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// DeleteConversation permanently removes a thread. A second call fails with
// ErrNotFound; deletion is a one-shot transition.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/api/v1/chat/conversations/" + url.PathEscape(conversationID)
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return classifyStatus(resp.StatusCode, errResp.Error)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
		}
	}
	return nil
}

// SendFunc adapts the REST path as an Outbox entry point.
func (c *Client) SendFunc() SendFunc {
	return c.Send
}
