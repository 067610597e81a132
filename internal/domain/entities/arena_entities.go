package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceFacts is the last-known on-chain snapshot for one address.
// HasSufficientBalance always reflects Balance >= the cast cost in effect
// when the snapshot was taken.
type BalanceFacts struct {
	Address                string          `json:"address"`
	Balance                decimal.Decimal `json:"balance"`
	HasSufficientBalance   bool            `json:"has_sufficient_balance"`
	HasParticipatedWeek    bool            `json:"has_participated_week"`
	ConversationCount      int             `json:"conversation_count"`
	RemainingConversations int             `json:"remaining_conversations"`
	BestScore              int             `json:"best_score"`
	BestConversationID     string          `json:"best_conversation_id"`
	TotalContributions     decimal.Decimal `json:"total_contributions"`
	Allowance              decimal.Decimal `json:"allowance"`
	LastUpdated            time.Time       `json:"last_updated"`
}

// CommonFacts is the single global game record shared by all addresses.
type CommonFacts struct {
	PrizePool     decimal.Decimal `json:"prize_pool"`
	WeekNumber    int             `json:"week_number"`
	WeekStart     time.Time       `json:"week_start"`
	WeekEnd       time.Time       `json:"week_end"`
	CastCost      decimal.Decimal `json:"cast_cost"`
	CharacterName string          `json:"character_name"`
	CharacterBio  string          `json:"character_bio"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// Reservation is a temporary hold against an address's available balance,
// owned exclusively by the balance manager.
type Reservation struct {
	ID        string          `json:"id"`
	Address   string          `json:"address"`
	RequestID string          `json:"request_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"timestamp"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the reservation has passed its expiry at now.
func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ReservationResult is the structured outcome of a reserve call.
// Insufficient balance is an expected business outcome, not an error.
type ReservationResult struct {
	Success          bool            `json:"success"`
	ReservationID    string          `json:"reservation_id,omitempty"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Error            string          `json:"error,omitempty"`
}

// TxResult is the outcome of submitting a charge transaction on-chain.
type TxResult struct {
	Success bool   `json:"success"`
	TxRef   string `json:"tx_ref,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResultCode classifies the outcome of processing one mention event.
type ResultCode string

const (
	ResultCharged             ResultCode = "charged"
	ResultInsufficientFunds   ResultCode = "insufficient_balance"
	ResultAlreadyProcessing   ResultCode = "already_processing"
	ResultAlreadyParticipated ResultCode = "already_participated"
	ResultRateLimited         ResultCode = "rate_limited"
	ResultQueueFull           ResultCode = "queue_full"
	ResultTimeout             ResultCode = "timeout"
	ResultError               ResultCode = "error"
)

// ProcessingResult is the externally visible outcome for one event.
type ProcessingResult struct {
	Code             ResultCode      `json:"code"`
	Reply            string          `json:"reply,omitempty"`
	TxRef            string          `json:"tx_ref,omitempty"`
	AvailableBalance decimal.Decimal `json:"available_balance,omitempty"`
	Detail           string          `json:"detail,omitempty"`
}

// Retriable reports whether the caller may safely resubmit the same event.
func (r *ProcessingResult) Retriable() bool {
	switch r.Code {
	case ResultQueueFull, ResultTimeout, ResultError:
		return true
	default:
		return false
	}
}

// MentionEvent is one inbound interaction from the webhook boundary.
type MentionEvent struct {
	Address string `json:"address"`
	EventID string `json:"event_id"`
	Content string `json:"content"`
	Author  string `json:"author,omitempty"`
}

// MentionOutcome pairs a processing result with the duplicate flag.
type MentionOutcome struct {
	WasDuplicate bool              `json:"was_duplicate"`
	Result       *ProcessingResult `json:"result"`
}
