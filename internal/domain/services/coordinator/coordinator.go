// Package coordinator wires deduplication, per-address queuing, balance
// reservation, the on-chain charge and the AI reply into one pipeline. The
// hard guarantees live in the components it composes; this layer stays thin.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/castarena/castarena_service/internal/adapters/chain"
	"github.com/castarena/castarena_service/internal/adapters/farcaster"
	"github.com/castarena/castarena_service/internal/domain/entities"
	domainerrors "github.com/castarena/castarena_service/internal/domain/errors"
	"github.com/castarena/castarena_service/internal/domain/services/balance"
	"github.com/castarena/castarena_service/internal/domain/services/dedup"
	"github.com/castarena/castarena_service/internal/domain/services/queue"
	"github.com/castarena/castarena_service/pkg/logger"
	"github.com/castarena/castarena_service/pkg/metrics"
)

// ReplyGenerator produces the character's reply text.
type ReplyGenerator interface {
	Generate(ctx context.Context, characterBio, userText string) (string, error)
}

// Service coordinates processing of one mention event end to end.
type Service struct {
	dedup     *dedup.Deduplicator
	queue     *queue.Queue
	balances  *balance.Manager
	facts     *balance.FactsCache
	charger   chain.Reader
	responder ReplyGenerator
	publisher farcaster.Publisher
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewService creates the coordinator.
func NewService(
	deduper *dedup.Deduplicator,
	requestQueue *queue.Queue,
	balances *balance.Manager,
	facts *balance.FactsCache,
	charger chain.Reader,
	responder ReplyGenerator,
	publisher farcaster.Publisher,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		dedup:     deduper,
		queue:     requestQueue,
		balances:  balances,
		facts:     facts,
		charger:   charger,
		responder: responder,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// HandleMention processes one inbound mention: deduplicate, serialize per
// address, reserve funds, charge, respond. Every outcome is translated into
// a ProcessingResult; only transport-level failures surface as errors.
func (s *Service) HandleMention(ctx context.Context, event *entities.MentionEvent) *entities.MentionOutcome {
	start := time.Now()

	result, wasDuplicate, err := s.dedup.ProcessOnce(ctx, event.Address, event.Content, event.EventID,
		func(ctx context.Context) (*entities.ProcessingResult, error) {
			return s.queue.Enqueue(ctx, event.Address, event.EventID, func(ctx context.Context) (*entities.ProcessingResult, error) {
				return s.process(ctx, event)
			})
		})

	if err != nil {
		result = s.resultFromError(event, err)
	}

	s.observe(result, start)
	return &entities.MentionOutcome{WasDuplicate: wasDuplicate, Result: result}
}

// RecordTopUp forwards funding notifications to the facts cache so the
// staleness heuristic can catch implausible cached balances.
func (s *Service) RecordTopUp(address string) {
	s.facts.RecordTopUp(address)
}

// process runs under the per-address queue, so for one address it is never
// executed concurrently with itself.
func (s *Service) process(ctx context.Context, event *entities.MentionEvent) (*entities.ProcessingResult, error) {
	common, _, err := s.facts.GetCommonFacts(ctx)
	if err != nil {
		return nil, domainerrors.TransientError("game state", err)
	}

	userFacts, _, err := s.facts.GetUserFacts(ctx, event.Address)
	if err != nil {
		return nil, domainerrors.TransientError("balance lookup", err)
	}
	if userFacts.RemainingConversations <= 0 && userFacts.HasParticipatedWeek {
		return &entities.ProcessingResult{
			Code:   entities.ResultAlreadyParticipated,
			Detail: "weekly conversation limit reached",
		}, nil
	}

	reservation := s.balances.Reserve(ctx, event.Address, event.EventID, common.CastCost)
	if !reservation.Success {
		return &entities.ProcessingResult{
			Code:             entities.ResultInsufficientFunds,
			AvailableBalance: reservation.AvailableBalance,
			Detail:           reservation.Error,
		}, nil
	}

	tx, err := s.charger.SubmitCharge(ctx, event.Address, common.CastCost, event.EventID)
	if err != nil {
		// The charge never landed; free the hold so a retry can succeed
		s.balances.Release(reservation.ReservationID)
		return nil, err
	}
	if !tx.Success {
		s.balances.Release(reservation.ReservationID)
		return &entities.ProcessingResult{
			Code:   entities.ResultError,
			Detail: tx.Error,
		}, nil
	}

	// Charge settled on-chain: the hold has served its purpose, and the
	// cached balance no longer reflects ground truth.
	s.balances.Release(reservation.ReservationID)
	s.facts.Invalidate(event.Address)

	reply := s.generateReply(ctx, common, event)
	s.publishReply(ctx, event, reply)

	return &entities.ProcessingResult{
		Code:  entities.ResultCharged,
		Reply: reply,
		TxRef: tx.TxRef,
	}, nil
}

func (s *Service) generateReply(ctx context.Context, common *entities.CommonFacts, event *entities.MentionEvent) string {
	reply, err := s.responder.Generate(ctx, common.CharacterBio, event.Content)
	if err != nil {
		s.logger.Error("Reply generation failed",
			"event_id", event.EventID,
			"error", err)
		return "The arena is noisy right now. Your cast was counted; try me again."
	}
	return reply
}

func (s *Service) publishReply(ctx context.Context, event *entities.MentionEvent, reply string) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishReply(ctx, event.EventID, reply); err != nil {
		// The user has been charged; log loudly but do not fail the event
		s.logger.Error("Failed to publish reply",
			"event_id", event.EventID,
			"address", event.Address,
			"error", err)
	}
}

func (s *Service) resultFromError(event *entities.MentionEvent, err error) *entities.ProcessingResult {
	switch {
	case errors.Is(err, domainerrors.ErrQueueFull):
		return &entities.ProcessingResult{Code: entities.ResultQueueFull, Detail: err.Error()}
	case errors.Is(err, domainerrors.ErrQueueTimeout):
		return &entities.ProcessingResult{Code: entities.ResultTimeout, Detail: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &entities.ProcessingResult{Code: entities.ResultTimeout, Detail: "request cancelled"}
	default:
		s.logger.Error("Mention processing failed",
			"event_id", event.EventID,
			"address", event.Address,
			"error", err)
		return &entities.ProcessingResult{Code: entities.ResultError, Detail: err.Error()}
	}
}

func (s *Service) observe(result *entities.ProcessingResult, start time.Time) {
	if s.metrics == nil || result == nil {
		return
	}
	s.metrics.EventsProcessed.WithLabelValues(string(result.Code)).Inc()
	s.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
}
