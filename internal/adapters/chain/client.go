package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/castarena/castarena_service/internal/domain/entities"
	domainerrors "github.com/castarena/castarena_service/internal/domain/errors"
	"github.com/castarena/castarena_service/pkg/logger"
	"github.com/castarena/castarena_service/pkg/metrics"
)

const defaultTimeout = 15 * time.Second

// Config represents chain gateway client configuration
type Config struct {
	RPCURLs           []string
	ContractAddress   string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond int
}

// Client reads and charges the arena contract through redundant JSON-RPC
// gateway endpoints. Each endpoint gets its own circuit breaker; calls
// rotate across endpoints so one degraded provider cannot take down reads.
type Client struct {
	config     Config
	httpClient *http.Client
	breakers   []*gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     *logger.Logger
	metrics    *metrics.Metrics

	// round-robin cursor over endpoints
	cursor atomic.Uint64
	reqID  atomic.Int64
}

// NewClient creates a new chain gateway client
func NewClient(config Config, logger *logger.Logger, m *metrics.Metrics) (*Client, error) {
	if len(config.RPCURLs) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 10
	}

	breakers := make([]*gobreaker.CircuitBreaker, len(config.RPCURLs))
	for i, url := range config.RPCURLs {
		endpoint := url
		breakers[i] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("ChainRPC-%d", i),
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Info("Chain RPC circuit breaker state changed",
					"name", name,
					"endpoint", endpoint,
					"from", from.String(),
					"to", to.String())
			},
		})
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breakers:   breakers,
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		logger:     logger,
		metrics:    m,
	}, nil
}

// FetchBalanceFacts reads the current on-chain stats for one address.
func (c *Client) FetchBalanceFacts(ctx context.Context, address string) (*entities.BalanceFacts, error) {
	var payload userFactsPayload
	if err := c.call(ctx, "arena_getUserFacts", []interface{}{c.config.ContractAddress, address}, &payload); err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(payload.Balance)
	if err != nil {
		return nil, fmt.Errorf("unparseable balance %q: %w", payload.Balance, err)
	}
	contributions, err := decimal.NewFromString(payload.TotalContributions)
	if err != nil {
		return nil, fmt.Errorf("unparseable contributions %q: %w", payload.TotalContributions, err)
	}
	allowance, err := decimal.NewFromString(payload.Allowance)
	if err != nil {
		return nil, fmt.Errorf("unparseable allowance %q: %w", payload.Allowance, err)
	}

	return &entities.BalanceFacts{
		Address:                address,
		Balance:                balance,
		HasParticipatedWeek:    payload.HasParticipatedWeek,
		ConversationCount:      payload.ConversationCount,
		RemainingConversations: payload.RemainingConversations,
		BestScore:              payload.BestScore,
		BestConversationID:     payload.BestConversationID,
		TotalContributions:     contributions,
		Allowance:              allowance,
		LastUpdated:            time.Now(),
	}, nil
}

// FetchCommonFacts reads the global game state.
func (c *Client) FetchCommonFacts(ctx context.Context) (*entities.CommonFacts, error) {
	var payload commonFactsPayload
	if err := c.call(ctx, "arena_getGameState", []interface{}{c.config.ContractAddress}, &payload); err != nil {
		return nil, err
	}

	prizePool, err := decimal.NewFromString(payload.PrizePool)
	if err != nil {
		return nil, fmt.Errorf("unparseable prize pool %q: %w", payload.PrizePool, err)
	}
	castCost, err := decimal.NewFromString(payload.CastCost)
	if err != nil {
		return nil, fmt.Errorf("unparseable cast cost %q: %w", payload.CastCost, err)
	}

	return &entities.CommonFacts{
		PrizePool:     prizePool,
		WeekNumber:    payload.WeekNumber,
		WeekStart:     time.Unix(payload.WeekStart, 0),
		WeekEnd:       time.Unix(payload.WeekEnd, 0),
		CastCost:      castCost,
		CharacterName: payload.CharacterName,
		CharacterBio:  payload.CharacterBio,
		LastUpdated:   time.Now(),
	}, nil
}

// SubmitCharge submits the participation charge for one event. The gateway
// dedupes on eventRef, so retrying with the same reference is safe.
func (c *Client) SubmitCharge(ctx context.Context, address string, amount decimal.Decimal, eventRef string) (*entities.TxResult, error) {
	var payload chargePayload
	params := []interface{}{c.config.ContractAddress, address, amount.String(), eventRef}
	if err := c.call(ctx, "arena_submitCast", params, &payload); err != nil {
		return nil, err
	}

	if !payload.Accepted {
		return &entities.TxResult{Success: false, Error: payload.Reason}, nil
	}
	return &entities.TxResult{Success: true, TxRef: payload.TxHash}, nil
}

// call performs one logical RPC with bounded retries rotating over the
// configured endpoints.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	attempts := c.config.MaxRetries
	if len(c.config.RPCURLs) > attempts {
		attempts = len(c.config.RPCURLs)
	}

	start := c.cursor.Add(1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		idx := int((start + uint64(i)) % uint64(len(c.config.RPCURLs)))

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		raw, err := c.breakers[idx].Execute(func() (interface{}, error) {
			return c.doRequest(ctx, c.config.RPCURLs[idx], method, params)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			c.observe(method, "error")
			c.logger.Warn("Chain RPC attempt failed",
				"method", method,
				"endpoint_index", idx,
				"attempt", i+1,
				"error", err)
			continue
		}

		if err := json.Unmarshal(raw.([]byte), result); err != nil {
			lastErr = fmt.Errorf("unparseable RPC result: %w", err)
			c.observe(method, "error")
			continue
		}
		c.observe(method, "ok")
		return nil
	}

	c.observe(method, "exhausted")
	return domainerrors.TransientError("chain RPC",
		fmt.Errorf("%w: %v", ErrAllEndpointsFailed, lastErr))
}

func (c *Client) doRequest(ctx context.Context, endpoint, method string, params []interface{}) ([]byte, error) {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      int(c.reqID.Add(1)),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unparseable RPC envelope: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return []byte(rpcResp.Result), nil
}

func (c *Client) observe(method, outcome string) {
	if c.metrics != nil {
		c.metrics.ChainRequests.WithLabelValues(method, outcome).Inc()
	}
}
