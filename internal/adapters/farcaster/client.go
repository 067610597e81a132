// Package farcaster is the social-network client used to fetch casts and
// publish the bot's replies.
package farcaster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/castarena/castarena_service/pkg/logger"
	"github.com/castarena/castarena_service/pkg/retry"
)

// Config represents Farcaster API configuration
type Config struct {
	APIKey     string
	BaseURL    string
	BotHandle  string
	Timeout    time.Duration
	MaxRetries int
}

// Publisher is the surface the coordinator needs from the social network.
type Publisher interface {
	GetCast(ctx context.Context, castID string) (*Cast, error)
	PublishReply(ctx context.Context, parentCastID, text string) (*Cast, error)
}

// Cast is one post on the network
type Cast struct {
	Hash          string    `json:"hash"`
	ThreadHash    string    `json:"thread_hash"`
	ParentHash    string    `json:"parent_hash,omitempty"`
	AuthorHandle  string    `json:"author_handle"`
	AuthorAddress string    `json:"author_address"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
}

// Client talks to the Farcaster hub API
type Client struct {
	config     Config
	httpClient *http.Client
	retrier    *retry.Retrier
	logger     *logger.Logger
}

// NewClient creates a new Farcaster API client
func NewClient(config Config, logger *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = config.MaxRetries
	// Hub errors are transport-level; retry them all within the budget
	policy.RetryableFunc = func(err error) bool { return err != nil }

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retrier:    retry.NewRetrier(policy, logger.Zap()),
		logger:     logger,
	}
}

// GetCast fetches one cast by hash
func (c *Client) GetCast(ctx context.Context, castID string) (*Cast, error) {
	var cast Cast
	endpoint := fmt.Sprintf("/v2/cast?hash=%s", castID)
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &cast); err != nil {
		return nil, fmt.Errorf("get cast failed: %w", err)
	}
	return &cast, nil
}

// PublishReply posts a reply under the given parent cast
func (c *Client) PublishReply(ctx context.Context, parentCastID, text string) (*Cast, error) {
	req := map[string]string{
		"parent_hash": parentCastID,
		"text":        text,
		"signer":      c.config.BotHandle,
	}
	var cast Cast
	if err := c.doRequest(ctx, http.MethodPost, "/v2/cast", req, &cast); err != nil {
		return nil, fmt.Errorf("publish reply failed: %w", err)
	}
	return &cast, nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, dest interface{}) error {
	_, err := c.retrier.DoWithResult(ctx, func() (interface{}, error) {
		return nil, c.doOnce(ctx, method, endpoint, body, dest)
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if dest != nil {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
