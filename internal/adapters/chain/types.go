package chain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/castarena/castarena_service/internal/domain/entities"
)

// Reader is the only source of ground truth for balances and game state.
// Reads are idempotent across redundant endpoints; SubmitCharge is the one
// effectful call and dedupes server-side on eventRef.
type Reader interface {
	FetchBalanceFacts(ctx context.Context, address string) (*entities.BalanceFacts, error)
	FetchCommonFacts(ctx context.Context) (*entities.CommonFacts, error)
	SubmitCharge(ctx context.Context, address string, amount decimal.Decimal, eventRef string) (*entities.TxResult, error)
}

// ErrAllEndpointsFailed is returned when every configured RPC endpoint was
// tried and none produced a usable response.
var ErrAllEndpointsFailed = errors.New("all chain RPC endpoints failed")

// rpcRequest is a JSON-RPC 2.0 request envelope
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return e.Message
}

// userFactsPayload is the contract gateway's user stats response
type userFactsPayload struct {
	Balance                string `json:"balance"`
	HasParticipatedWeek    bool   `json:"has_participated_week"`
	ConversationCount      int    `json:"conversation_count"`
	RemainingConversations int    `json:"remaining_conversations"`
	BestScore              int    `json:"best_score"`
	BestConversationID     string `json:"best_conversation_id"`
	TotalContributions     string `json:"total_contributions"`
	Allowance              string `json:"allowance"`
}

// commonFactsPayload is the contract gateway's game state response
type commonFactsPayload struct {
	PrizePool     string `json:"prize_pool"`
	WeekNumber    int    `json:"week_number"`
	WeekStart     int64  `json:"week_start"`
	WeekEnd       int64  `json:"week_end"`
	CastCost      string `json:"cast_cost"`
	CharacterName string `json:"character_name"`
	CharacterBio  string `json:"character_bio"`
}

// chargePayload is the contract gateway's charge submission response
type chargePayload struct {
	Accepted bool   `json:"accepted"`
	TxHash   string `json:"tx_hash"`
	Reason   string `json:"reason,omitempty"`
}
