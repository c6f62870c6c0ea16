package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/google/uuid"
)

const (
	notifyPath     = "/notify"
	defaultTimeout = 10 * time.Second
)

// Sender delivers one notification request.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Client posts requests to the notification facade, authenticated with an
// API key.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

var _ Sender = (*Client)(nil)

type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient accepts either the facade base URL or the full /notify URL.
func NewClient(apiURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiURL:     apiURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint() string {
	if strings.HasSuffix(c.apiURL, notifyPath) {
		return c.apiURL
	}
	return strings.TrimRight(c.apiURL, "/") + notifyPath
}

// Send posts req. A request without a NotificationID gets a fresh one so
// the facade can drop duplicates.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.NotificationID == "" {
		req.NotificationID = uuid.NewString()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "send notification")
	}
	defer resp.Body.Close()

	var out Response
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		// Error bodies are best effort; the status alone is enough.
		return &out, errors.NewAPIError("send notification", resp.StatusCode, out.Error)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	return &out, nil
}

func (c *Client) validateRequest(req *Request) error {
	switch {
	case req.UserID == "":
		return fmt.Errorf("userId is required")
	case req.EventType == "":
		return fmt.Errorf("eventType is required")
	}
	if _, ok := knownEventTypes[req.EventType]; !ok {
		return fmt.Errorf("invalid eventType: %s", req.EventType)
	}
	if req.Priority != "" {
		if _, ok := knownPriorities[req.Priority]; !ok {
			return fmt.Errorf("invalid priority: %s", req.Priority)
		}
	}
	if req.Data == nil {
		req.Data = make(map[string]interface{})
	}
	return nil
}

// SendSharingStarted tells the user's festival group that sharing started.
// It goes out at low priority: push only, no email.
func (c *Client) SendSharingStarted(ctx context.Context, userID string, data SharingStartedData) (*Response, error) {
	return c.Send(ctx, &Request{
		UserID:    userID,
		EventType: EventTypeSharingStarted,
		Priority:  PriorityLow,
		Data:      data.fields(),
	})
}
