// Package supabase talks to a Supabase project: sharing sessions and
// location uploads through PostgREST, nearby queries through RPCs and the
// peer feed through Supabase Realtime.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/config"
	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/benbjohnson/clock"
	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// Client is shared by SessionAPI, ProximityAPI and Feed.
type Client struct {
	rest        *supa.Client
	baseURL     string
	anonKey     string
	accessToken string
	userID      string
	httpClient  *http.Client
	clock       clock.Clock
	log         *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for RPC calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithClock sets the clock used for row timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithUserID overrides the user id derived from the access token.
func WithUserID(userID string) Option {
	return func(c *Client) {
		c.userID = userID
	}
}

// NewClient builds a client for cfg. The user id is taken from the access
// token unless WithUserID is given.
func NewClient(cfg config.SupabaseConfig, opts ...Option) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, errors.ValidationFailed("invalid supabase config", "url and anon key are required")
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		anonKey:     cfg.AnonKey,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		clock:       clock.New(),
		log:         logger.GetLogger().Named("supabase"),
	}
	if c.accessToken == "" {
		c.accessToken = cfg.AnonKey
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.userID == "" && cfg.AccessToken != "" {
		userID, err := UserIDFromToken(cfg.AccessToken, cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		c.userID = userID
	}

	rest, err := supa.NewClient(c.baseURL, c.anonKey, &supa.ClientOptions{
		Headers: map[string]string{"Authorization": "Bearer " + c.accessToken},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	c.rest = rest

	c.log.Infow("Supabase client ready", "url", c.baseURL, "user_id", logger.MaskID(c.userID))
	return c, nil
}

// UserID returns the id rows are written for.
func (c *Client) UserID() string {
	return c.userID
}

// run executes a PostgREST call, which has no context support, and gives up
// waiting when ctx ends.
func (c *Client) run(ctx context.Context, operation string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.NetworkError, operation)
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return classify(operation, err)
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.NetworkError, operation)
	}
}

// rpc posts body to a database function and decodes the JSON result into out.
func (c *Client) rpc(ctx context.Context, function string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s arguments: %w", function, err)
	}

	url := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, function)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.NetworkError, function)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.NetworkError, function)
	}
	if resp.StatusCode >= 300 {
		return errors.NewAPIError(function, resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, errors.APIError, function)
	}
	return nil
}

func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Categorize(err) == errors.CategoryNetwork {
		return errors.Wrap(err, errors.NetworkError, operation)
	}
	return errors.Wrap(err, errors.APIError, operation)
}
