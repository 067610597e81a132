package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/castarena/castarena_service/internal/domain/services/queue"
)

// StatsProvider exposes operational counters for the stats endpoint
type StatsProvider interface {
	Stats() map[string]queue.AddressStats
}

// ReservationCounter exposes the active reservation count
type ReservationCounter interface {
	ActiveReservations() int
}

// DedupCounter exposes the recent-result table size
type DedupCounter interface {
	Entries() int
}

// HealthHandler handles health and stats endpoints
type HealthHandler struct {
	queues       StatsProvider
	reservations ReservationCounter
	dedup        DedupCounter
	version      string
	startTime    time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(queues StatsProvider, reservations ReservationCounter, dedup DedupCounter, version string) *HealthHandler {
	return &HealthHandler{
		queues:       queues,
		reservations: reservations,
		dedup:        dedup,
		version:      version,
		startTime:    time.Now(),
	}
}

// Health handles the general health endpoint
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"timestamp":      time.Now().Unix(),
	})
}

// Stats exposes queue depth, reservation and dedup counters for
// operational visibility. Not used for correctness.
// GET /stats
func (h *HealthHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"queues":              h.queues.Stats(),
		"active_reservations": h.reservations.ActiveReservations(),
		"dedup_entries":       h.dedup.Entries(),
		"timestamp":           time.Now().Unix(),
	})
}
