package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/castarena/castarena_service/internal/domain/errors"
	"github.com/castarena/castarena_service/pkg/logger"
)

func userFactsResponse(balance string) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"result": map[string]interface{}{
			"balance":                 balance,
			"has_participated_week":   false,
			"conversation_count":      2,
			"remaining_conversations": 3,
			"best_score":              71,
			"best_conversation_id":    "conv-9",
			"total_contributions":     "0.04",
			"allowance":               "1",
		},
	}
}

func rpcServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		RPCURLs:           urls,
		ContractAddress:   "0xarena",
		Timeout:           time.Second,
		MaxRetries:        3,
		RequestsPerSecond: 1000,
	}, logger.NewNop(), nil)
	require.NoError(t, err)
	return client
}

func TestFetchBalanceFacts(t *testing.T) {
	var gotMethod string
	server := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			gotMethod = req.Method
		}
		json.NewEncoder(w).Encode(userFactsResponse("0.05")) //nolint:errcheck
	})

	client := newTestClient(t, server.URL)
	facts, err := client.FetchBalanceFacts(context.Background(), "0xaaa")
	require.NoError(t, err)

	assert.Equal(t, "arena_getUserFacts", gotMethod)
	assert.Equal(t, "0xaaa", facts.Address)
	assert.Equal(t, "0.05", facts.Balance.String())
	assert.Equal(t, 3, facts.RemainingConversations)
	assert.False(t, facts.HasParticipatedWeek)
}

func TestFetchCommonFacts(t *testing.T) {
	server := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]interface{}{
				"prize_pool":     "2.4",
				"week_number":    7,
				"week_start":     1756684800,
				"week_end":       1757289600,
				"cast_cost":      "0.01",
				"character_name": "Vex",
				"character_bio":  "a sardonic arena champion",
			},
		})
	})

	client := newTestClient(t, server.URL)
	common, err := client.FetchCommonFacts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2.4", common.PrizePool.String())
	assert.Equal(t, 7, common.WeekNumber)
	assert.Equal(t, "0.01", common.CastCost.String())
	assert.Equal(t, "Vex", common.CharacterName)
}

func TestSubmitChargeAccepted(t *testing.T) {
	var gotMethod string
	var gotParams []interface{}
	server := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			gotMethod = req.Method
			gotParams = req.Params
		}

		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]interface{}{"accepted": true, "tx_hash": "0xdeadbeef"},
		})
	})

	client := newTestClient(t, server.URL)
	tx, err := client.SubmitCharge(context.Background(), "0xaaa", decimal.RequireFromString("0.01"), "evt-1")
	require.NoError(t, err)
	assert.True(t, tx.Success)
	assert.Equal(t, "0xdeadbeef", tx.TxRef)
	assert.Equal(t, "arena_submitCast", gotMethod)
	require.Len(t, gotParams, 4)
	assert.Equal(t, "evt-1", gotParams[3])
}

func TestSubmitChargeRejected(t *testing.T) {
	server := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]interface{}{"accepted": false, "reason": "insufficient on-chain balance"},
		})
	})

	client := newTestClient(t, server.URL)
	tx, err := client.SubmitCharge(context.Background(), "0xaaa", decimal.RequireFromString("0.01"), "evt-1")
	require.NoError(t, err)
	assert.False(t, tx.Success)
	assert.Equal(t, "insufficient on-chain balance", tx.Error)
}

func TestFailoverToHealthyEndpoint(t *testing.T) {
	var badHits, goodHits int32
	bad := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&badHits, 1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	good := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&goodHits, 1)
		json.NewEncoder(w).Encode(userFactsResponse("0.05")) //nolint:errcheck
	})

	client := newTestClient(t, bad.URL, good.URL)

	// Every call lands on the healthy endpoint within the retry budget,
	// regardless of where the rotation starts
	for i := 0; i < 4; i++ {
		facts, err := client.FetchBalanceFacts(context.Background(), "0xaaa")
		require.NoError(t, err)
		assert.Equal(t, "0.05", facts.Balance.String())
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&goodHits))
}

func TestAllEndpointsFailing(t *testing.T) {
	down := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	client := newTestClient(t, down.URL)
	_, err := client.FetchBalanceFacts(context.Background(), "0xaaa")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllEndpointsFailed)
	assert.True(t, domainerrors.ShouldRetry(err), "endpoint exhaustion is transient")
}

func TestRPCErrorSurfaced(t *testing.T) {
	server := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]interface{}{"code": -32602, "message": "unknown address"},
		})
	})

	client := newTestClient(t, server.URL)
	_, err := client.FetchBalanceFacts(context.Background(), "0xaaa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown address")
}

func TestCancelledContextStopsRetries(t *testing.T) {
	down := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	client := newTestClient(t, down.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchBalanceFacts(ctx, "0xaaa")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{}, logger.NewNop(), nil)
	assert.Error(t, err)
}
