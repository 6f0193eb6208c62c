// Package client is a typed HTTP client for the friend messaging API
package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	apierrors "github.com/zfogg/orbit/internal/errors"
	"github.com/zfogg/orbit/internal/messaging"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/receipts"
	"go.uber.org/zap"
)

const userAgent = "orbit-cli/0.1.0"

// Client calls the orbit API as one authenticated user
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a client for baseURL authenticating with token
func New(baseURL, token string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}

	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetError(&apierrors.APIError{})
	if token != "" {
		http.SetAuthToken(token)
	}

	http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		log.Debug("HTTP request", zap.String("method", req.Method), zap.String("url", req.URL))
		return nil
	})
	http.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		log.Debug("HTTP response",
			zap.Int("status", resp.StatusCode()),
			zap.Duration("latency", resp.Time()))
		return nil
	})

	return &Client{http: http, logger: log}
}

// responseError turns a non-2xx response into an *apierrors.APIError
func responseError(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	if apiErr, ok := resp.Error().(*apierrors.APIError); ok && apiErr.Code != "" {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return fmt.Errorf("unexpected response: %s", resp.Status())
}

// Conversations lists the caller's conversations, most recent first
func (c *Client) Conversations(ctx context.Context, userID string) ([]receipts.ConversationSummary, error) {
	var out struct {
		Conversations []receipts.ConversationSummary `json:"conversations"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("userId", userID).
		SetResult(&out).
		Get("/friend-conversations")
	if err := responseError(resp, err); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// OpenConversation returns the conversation between the caller and otherID
func (c *Client) OpenConversation(ctx context.Context, selfID, otherID string) (*models.Conversation, bool, error) {
	var out struct {
		Conversation models.Conversation `json:"conversation"`
		Created      bool                `json:"created"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"user1Id": selfID, "user2Id": otherID}).
		SetResult(&out).
		Post("/friend-conversations")
	if err := responseError(resp, err); err != nil {
		return nil, false, err
	}
	return &out.Conversation, out.Created, nil
}

// UnreadCounts returns the caller's unread counts
func (c *Client) UnreadCounts(ctx context.Context, userID string) (*receipts.UnreadCounts, error) {
	var out receipts.UnreadCounts
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("userId", userID).
		SetResult(&out).
		Get("/friends/messages")
	if err := responseError(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send sends a text message
func (c *Client) Send(ctx context.Context, conversationID, content string) (*models.FriendMessage, error) {
	var out struct {
		Message models.FriendMessage `json:"message"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"conversationId": conversationID, "content": content}).
		SetResult(&out).
		Post("/friend-messages")
	if err := responseError(resp, err); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

// SendFile uploads an attachment as an image, video or audio message
func (c *Client) SendFile(ctx context.Context, conversationID string, kind models.MessageType, path, caption string) (*models.FriendMessage, error) {
	var out struct {
		Message models.FriendMessage `json:"message"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"conversationId": conversationID,
			"type":           string(kind),
			"caption":        caption,
		}).
		SetFile("file", path).
		SetResult(&out).
		Post("/friend-messages/upload")
	if err := responseError(resp, err); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

// History returns one page of a conversation, oldest first
func (c *Client) History(ctx context.Context, conversationID string, limit, offset int) (*messaging.MessagePage, error) {
	var out messaging.MessagePage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"conversationId": conversationID,
			"limit":          strconv.Itoa(limit),
			"offset":         strconv.Itoa(offset),
		}).
		SetResult(&out).
		Get("/friend-messages")
	if err := responseError(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead marks one message read
func (c *Client) MarkRead(ctx context.Context, messageID string) (*receipts.MarkResult, error) {
	var out receipts.MarkResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", messageID).
		SetResult(&out).
		Post("/friend-messages/{id}/read-status")
	if err := responseError(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkConversationRead marks everything the other participant sent as read
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) (*receipts.BulkResult, error) {
	var out receipts.BulkResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID).
		SetResult(&out).
		Post("/friend-conversations/{id}/read")
	if err := responseError(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadStatus reports whether one of the caller's messages was read
func (c *Client) ReadStatus(ctx context.Context, messageID string) (*receipts.ReadStatus, error) {
	var out receipts.ReadStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", messageID).
		SetResult(&out).
		Get("/friend-messages/{id}/read-status")
	if err := responseError(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete deletes one of the caller's messages
func (c *Client) Delete(ctx context.Context, messageID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", messageID).
		Delete("/friend-messages/{id}")
	return responseError(resp, err)
}
