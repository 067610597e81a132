package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/castarena/castarena_service/internal/domain/entities"
	"github.com/castarena/castarena_service/internal/infrastructure/persistence"
	"github.com/castarena/castarena_service/pkg/logger"
	"github.com/castarena/castarena_service/pkg/metrics"
)

const reservationsSnapshot = "reservations"

// reservationsDocument is the on-disk snapshot format for the hold table.
type reservationsDocument struct {
	Reservations map[string]*entities.Reservation `json:"reservations"`
	Timestamp    time.Time                        `json:"timestamp"`
	Count        int                              `json:"count"`
}

// Manager provides optimistic soft locks over externally-read balances.
// A reservation holds funds for one request so that concurrent requests
// cannot both spend a balance that exists only once. The actual charge is
// submitted by the coordinator; the manager only guards availability.
type Manager struct {
	cache   *FactsCache
	store   *persistence.Store
	timeout time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu           sync.Mutex
	reservations map[string]*entities.Reservation // keyed address:requestID

	now func() time.Time
}

// NewManager creates a reservation manager and restores any snapshot,
// dropping entries that expired while the process was down.
func NewManager(cache *FactsCache, store *persistence.Store, timeout time.Duration, logger *logger.Logger, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		cache:        cache,
		store:        store,
		timeout:      timeout,
		logger:       logger,
		metrics:      m,
		reservations: make(map[string]*entities.Reservation),
		now:          time.Now,
	}

	if store != nil {
		var doc reservationsDocument
		if found, err := store.Load(reservationsSnapshot, &doc); err != nil {
			logger.Warn("Failed to load reservations snapshot", "error", err)
		} else if found {
			now := mgr.now()
			restored := 0
			for key, res := range doc.Reservations {
				if res != nil && !res.Expired(now) {
					mgr.reservations[key] = res
					restored++
				}
			}
			logger.Info("Restored reservations from snapshot",
				"restored", restored,
				"dropped", len(doc.Reservations)-restored)
		}
	}
	mgr.updateGauge()

	return mgr
}

// Reserve holds amount for (address, requestID) if the unreserved balance
// covers it. Calling again with the same requestID before release returns
// the existing hold without double-counting.
func (m *Manager) Reserve(ctx context.Context, address, requestID string, amount decimal.Decimal) *entities.ReservationResult {
	key := reservationKey(address, requestID)

	// Idempotent fast path before paying for a chain read.
	m.mu.Lock()
	m.sweepLocked()
	if existing, ok := m.reservations[key]; ok {
		m.mu.Unlock()
		return &entities.ReservationResult{
			Success:       true,
			ReservationID: existing.ID,
		}
	}
	m.mu.Unlock()

	facts, _, err := m.cache.GetUserFacts(ctx, address)
	if err != nil {
		return &entities.ReservationResult{
			Success: false,
			Error:   fmt.Sprintf("balance lookup failed: %v", err),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	// Re-check under the lock; an idempotent retry may have won the race.
	if existing, ok := m.reservations[key]; ok {
		return &entities.ReservationResult{
			Success:       true,
			ReservationID: existing.ID,
		}
	}

	reserved := decimal.Zero
	for _, res := range m.reservations {
		if res.Address == address {
			reserved = reserved.Add(res.Amount)
		}
	}

	available := facts.Balance.Sub(reserved)
	if available.LessThan(amount) {
		return &entities.ReservationResult{
			Success:          false,
			AvailableBalance: available,
			Error:            "insufficient available balance",
		}
	}

	now := m.now()
	res := &entities.Reservation{
		ID:        uuid.New().String(),
		Address:   address,
		RequestID: requestID,
		Amount:    amount,
		CreatedAt: now,
		ExpiresAt: now.Add(m.timeout),
	}
	m.reservations[key] = res
	m.persistLocked()
	m.updateGauge()

	m.logger.Debug("Reservation created",
		"address", address,
		"request_id", requestID,
		"amount", amount.String(),
		"available_after", available.Sub(amount).String())

	return &entities.ReservationResult{
		Success:          true,
		ReservationID:    res.ID,
		AvailableBalance: available.Sub(amount),
	}
}

// Release removes a reservation by id. Releasing an unknown or already
// released id returns false.
func (m *Manager) Release(reservationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, res := range m.reservations {
		if res.ID == reservationID {
			delete(m.reservations, key)
			m.persistLocked()
			m.updateGauge()
			return true
		}
	}
	return false
}

// ActiveReservations returns the number of unexpired holds.
func (m *Manager) ActiveReservations() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	now := m.now()
	for _, res := range m.reservations {
		if !res.Expired(now) {
			count++
		}
	}
	return count
}

// Sweep removes expired reservations; also run lazily on every Reserve.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.sweepLocked()
	if removed > 0 {
		m.persistLocked()
		m.updateGauge()
	}
	return removed
}

func (m *Manager) sweepLocked() int {
	now := m.now()
	removed := 0
	for key, res := range m.reservations {
		if res.Expired(now) {
			delete(m.reservations, key)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("Swept expired reservations", "removed", removed)
	}
	return removed
}

func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	doc := reservationsDocument{
		Reservations: make(map[string]*entities.Reservation, len(m.reservations)),
		Timestamp:    m.now(),
		Count:        len(m.reservations),
	}
	for key, res := range m.reservations {
		doc.Reservations[key] = res
	}
	m.store.Save(reservationsSnapshot, doc)
}

func (m *Manager) updateGauge() {
	if m.metrics != nil {
		m.metrics.ActiveReservations.Set(float64(len(m.reservations)))
	}
}

func reservationKey(address, requestID string) string {
	return address + ":" + requestID
}
