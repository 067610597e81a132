// Package dedup recognizes exact and near-duplicate mention events so each
// logical event is processed at most once inside the dedup window.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/castarena/castarena_service/internal/domain/entities"
	domainerrors "github.com/castarena/castarena_service/internal/domain/errors"
	"github.com/castarena/castarena_service/internal/infrastructure/persistence"
	"github.com/castarena/castarena_service/pkg/logger"
	"github.com/castarena/castarena_service/pkg/metrics"
)

const dedupSnapshot = "dedup-cache"

// Processor runs the actual work for an admitted event.
type Processor func(ctx context.Context) (*entities.ProcessingResult, error)

// Config holds deduplication windows. SpamWindow must not exceed Window.
type Config struct {
	Window     time.Duration
	SpamWindow time.Duration
}

type cachedEntry struct {
	Timestamp time.Time                  `json:"timestamp"`
	Result    *entities.ProcessingResult `json:"result"`
	Address   string                     `json:"address,omitempty"`
}

// dedupDocument is the on-disk snapshot format for the recent-result table.
type dedupDocument struct {
	RecentRequests map[string]*cachedEntry `json:"recent_requests"`
	Timestamp      time.Time               `json:"timestamp"`
	Count          int                     `json:"count"`
}

// Deduplicator caches recent results per exact event key and per normalized
// content key, and collapses concurrent submissions of the same event into
// one execution using an in-flight channel registry.
type Deduplicator struct {
	config  Config
	store   *persistence.Store
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	results  map[string]*cachedEntry
	inFlight map[string]chan struct{}

	now func() time.Time
}

// New creates a deduplicator and reloads non-expired snapshot entries.
func New(config Config, store *persistence.Store, logger *logger.Logger, m *metrics.Metrics) *Deduplicator {
	d := &Deduplicator{
		config:   config,
		store:    store,
		logger:   logger,
		metrics:  m,
		results:  make(map[string]*cachedEntry),
		inFlight: make(map[string]chan struct{}),
		now:      time.Now,
	}

	if store != nil {
		var doc dedupDocument
		if found, err := store.Load(dedupSnapshot, &doc); err != nil {
			logger.Warn("Failed to load dedup snapshot", "error", err)
		} else if found {
			cutoff := d.now().Add(-config.Window)
			restored := 0
			for key, entry := range doc.RecentRequests {
				if entry != nil && entry.Timestamp.After(cutoff) {
					d.results[key] = entry
					restored++
				}
			}
			logger.Info("Restored dedup entries from snapshot",
				"restored", restored,
				"dropped", len(doc.RecentRequests)-restored)
		}
	}

	return d
}

// ProcessOnce admits the event at most once. It returns the processing
// result, whether the event was recognized as a duplicate, and any
// transport-level error from the processor (never cached).
func (d *Deduplicator) ProcessOnce(ctx context.Context, address, content, eventID string, processor Processor) (*entities.ProcessingResult, bool, error) {
	exactKey := d.exactKey(eventID)
	contentKey := d.contentKey(address, content)
	primaryKey := exactKey
	if primaryKey == "" {
		primaryKey = contentKey
	}

	d.mu.Lock()
	now := d.now()

	// Exact duplicate with a cached result
	if entry, ok := d.freshLocked(primaryKey, now, d.config.Window); ok {
		d.mu.Unlock()
		d.countDuplicate()
		return entry.Result, true, nil
	}

	// Same event currently mid-flight: await its result instead of
	// starting a second execution
	if done, ok := d.inFlight[primaryKey]; ok {
		d.mu.Unlock()
		d.countDuplicate()
		return d.awaitInFlight(ctx, primaryKey, done)
	}

	// Near-duplicate content from the same address inside the spam window
	if primaryKey != contentKey {
		if _, ok := d.freshLocked(contentKey, now, d.config.SpamWindow); ok {
			d.mu.Unlock()
			d.countDuplicate()
			return &entities.ProcessingResult{
				Code:   entities.ResultRateLimited,
				Detail: "near-identical cast submitted moments ago",
			}, true, nil
		}
	}

	done := make(chan struct{})
	d.inFlight[primaryKey] = done
	d.mu.Unlock()

	result, err := processor(ctx)

	d.mu.Lock()
	delete(d.inFlight, primaryKey)
	if err == nil && result != nil {
		entry := &cachedEntry{Timestamp: d.now(), Result: result, Address: address}
		d.results[primaryKey] = entry
		d.results[contentKey] = entry
	}
	d.cleanupLocked()
	d.persistLocked()
	d.mu.Unlock()
	close(done)

	if err != nil {
		// Failures are retriable: the marker is cleared and nothing cached
		return nil, false, err
	}
	return result, false, nil
}

// Cleanup removes entries older than the dedup window.
func (d *Deduplicator) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cleanupLocked()
}

// Entries returns the current recent-result table size.
func (d *Deduplicator) Entries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.results)
}

func (d *Deduplicator) awaitInFlight(ctx context.Context, key string, done chan struct{}) (*entities.ProcessingResult, bool, error) {
	select {
	case <-done:
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}

	d.mu.Lock()
	entry, ok := d.freshLocked(key, d.now(), d.config.Window)
	d.mu.Unlock()

	if !ok {
		// The in-flight attempt failed; nothing was cached
		return nil, true, domainerrors.TransientError("concurrent processing", nil)
	}
	return entry.Result, true, nil
}

func (d *Deduplicator) freshLocked(key string, now time.Time, window time.Duration) (*cachedEntry, bool) {
	if key == "" {
		return nil, false
	}
	entry, ok := d.results[key]
	if !ok || now.Sub(entry.Timestamp) > window {
		return nil, false
	}
	return entry, true
}

func (d *Deduplicator) cleanupLocked() int {
	cutoff := d.now().Add(-d.config.Window)
	removed := 0
	for key, entry := range d.results {
		if entry.Timestamp.Before(cutoff) {
			delete(d.results, key)
			removed++
		}
	}
	return removed
}

func (d *Deduplicator) persistLocked() {
	if d.store == nil {
		return
	}
	doc := dedupDocument{
		RecentRequests: make(map[string]*cachedEntry, len(d.results)),
		Timestamp:      d.now(),
		Count:          len(d.results),
	}
	for key, entry := range d.results {
		doc.RecentRequests[key] = entry
	}
	d.store.Save(dedupSnapshot, doc)
}

func (d *Deduplicator) countDuplicate() {
	if d.metrics != nil {
		d.metrics.DuplicatesDetected.Inc()
	}
}

func (d *Deduplicator) exactKey(eventID string) string {
	if eventID == "" {
		return ""
	}
	return "evt:" + eventID
}

var (
	mentionPattern = regexp.MustCompile(`@[\w.-]+`)
	punctPattern   = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// contentKey hashes an address-scoped normalized transform of the content:
// lowercased, mention tokens and punctuation stripped, whitespace collapsed.
func (d *Deduplicator) contentKey(address, content string) string {
	normalized := strings.ToLower(content)
	normalized = mentionPattern.ReplaceAllString(normalized, "")
	normalized = punctPattern.ReplaceAllString(normalized, "")
	normalized = spacePattern.ReplaceAllString(strings.TrimSpace(normalized), " ")

	sum := sha256.Sum256([]byte(address + "|" + normalized))
	return "sub:" + hex.EncodeToString(sum[:])
}
