// Package alerts persists flagged findings as a capped per-room log.
// Alerts survive restarts (they live in the state store, not in session
// state); the cap evicts the oldest entries first.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
	"github.com/warroomhq/warroom/internal/shared/id"
	"github.com/warroomhq/warroom/internal/store"
)

// Default limits.
const (
	DefaultMaxPerRoom   = 200
	DefaultContextLimit = 100
	DefaultTitleLimit   = 200
	DefaultPreviewLimit = 200
)

// Alert is one persisted flagged finding.
type Alert struct {
	ID        string    `json:"id"`
	Context   string    `json:"context"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	FlaggedBy string    `json:"flaggedBy"`
	Timestamp time.Time `json:"timestamp"`
}

type document struct {
	Alerts []Alert `json:"alerts"`
}

// Log is the room-scoped alert store.
type Log struct {
	store        *store.Store
	metrics      *monitoring.Metrics
	maxPerRoom   int
	contextLimit int
	titleLimit   int
	previewLimit int
}

// Option configures a Log.
type Option func(*Log)

// WithLimits overrides the cap and field clamps.
func WithLimits(maxPerRoom, contextLimit, titleLimit, previewLimit int) Option {
	return func(l *Log) {
		l.maxPerRoom = maxPerRoom
		l.contextLimit = contextLimit
		l.titleLimit = titleLimit
		l.previewLimit = previewLimit
	}
}

// WithMetrics attaches alert telemetry.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(l *Log) { l.metrics = m }
}

// NewLog creates an alert log backed by s.
func NewLog(s *store.Store, opts ...Option) *Log {
	l := &Log{
		store:        s,
		maxPerRoom:   DefaultMaxPerRoom,
		contextLimit: DefaultContextLimit,
		titleLimit:   DefaultTitleLimit,
		previewLimit: DefaultPreviewLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func docKey(roomID string) string {
	return fmt.Sprintf("rooms/%s/alerts.json", roomID)
}

// Append clamps the fields, assigns an id and timestamp, and persists the
// alert, evicting the oldest entries past the cap. The stored alert is
// returned for broadcasting.
func (l *Log) Append(ctx context.Context, roomID, flaggedBy, alertContext, title, preview string) (Alert, error) {
	alert := Alert{
		ID:        id.NewAlertID().String(),
		Context:   clamp(alertContext, l.contextLimit),
		Title:     clamp(title, l.titleLimit),
		Preview:   clamp(preview, l.previewLimit),
		FlaggedBy: flaggedBy,
		Timestamp: time.Now().UTC(),
	}

	_, err := store.Update(ctx, l.store, docKey(roomID), document{}, func(doc *document) (any, error) {
		doc.Alerts = append(doc.Alerts, alert)
		if excess := len(doc.Alerts) - l.maxPerRoom; excess > 0 {
			doc.Alerts = doc.Alerts[excess:]
		}
		return nil, nil
	})
	if err != nil {
		return Alert{}, err
	}

	if l.metrics != nil {
		l.metrics.AlertsAppended.Inc()
	}
	return alert, nil
}

// List returns a room's alerts, oldest first.
func (l *Log) List(ctx context.Context, roomID string) ([]Alert, error) {
	doc, err := store.Load(ctx, l.store, docKey(roomID), document{})
	if err != nil {
		return nil, err
	}
	return doc.Alerts, nil
}

// clamp truncates s to at most limit runes.
func clamp(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
