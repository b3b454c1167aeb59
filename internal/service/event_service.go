package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clearshot/photoarc/internal/domain"
)

// EventServiceConfig configures the event service.
type EventServiceConfig struct {
	// RingBufferSize is the number of events to keep in memory.
	// Default: 1000
	RingBufferSize int

	// PersistPath enables SQLite persistence for historical events when
	// non-empty.
	PersistPath string

	// RetentionDays is how long to keep persisted events (0 = forever).
	RetentionDays int
}

// DefaultEventServiceConfig returns sensible defaults.
func DefaultEventServiceConfig() EventServiceConfig {
	return EventServiceConfig{
		RingBufferSize: 1000,
		RetentionDays:  30,
	}
}

// EventService manages the activity log with an in-memory ring buffer and
// optional SQLite persistence. It implements domain.EventEmitter.
type EventService struct {
	cfg    EventServiceConfig
	logger *slog.Logger

	mu       sync.RWMutex
	events   []domain.Event
	head     int // next write position
	count    int
	eventSeq uint64

	db *sql.DB

	// live subscribers for the SSE stream
	subMu       sync.RWMutex
	subscribers map[uint64]chan domain.Event
	subSeq      uint64
}

// NewEventService creates a new event service.
func NewEventService(cfg EventServiceConfig, logger *slog.Logger) (*EventService, error) {
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = 1000
	}

	svc := &EventService{
		cfg:         cfg,
		logger:      logger,
		events:      make([]domain.Event, cfg.RingBufferSize),
		subscribers: make(map[uint64]chan domain.Event),
	}

	if cfg.PersistPath != "" {
		if err := svc.initSQLite(); err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		logger.Info("event persistence enabled", "path", cfg.PersistPath)
	}

	return svc, nil
}

func (s *EventService) initSQLite() error {
	db, err := sql.Open("sqlite", s.cfg.PersistPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			severity TEXT NOT NULL,
			category TEXT NOT NULL,
			message TEXT NOT NULL,
			source TEXT,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
	`)
	if err != nil {
		db.Close()
		return fmt.Errorf("create table: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the event service and any open resources.
func (s *EventService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Emit records an event to the activity log.
func (s *EventService) Emit(event domain.Event) {
	if event.ID == "" {
		seq := atomic.AddUint64(&s.eventSeq, 1)
		event.ID = domain.EventID(fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), seq))
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.events[s.head] = event
	s.head = (s.head + 1) % s.cfg.RingBufferSize
	if s.count < s.cfg.RingBufferSize {
		s.count++
	}
	s.mu.Unlock()

	if s.db != nil {
		go s.persistEvent(event)
	}

	s.notifySubscribers(event)

	logLevel := slog.LevelInfo
	switch event.Severity {
	case domain.EventSeverityWarning:
		logLevel = slog.LevelWarn
	case domain.EventSeverityError:
		logLevel = slog.LevelError
	}
	s.logger.Log(context.Background(), logLevel, "event emitted",
		"event_id", event.ID,
		"category", event.Category,
		"severity", event.Severity,
		"message", event.Message,
		"source", event.Source,
	)
}

// persistEvent saves an event to SQLite.
func (s *EventService) persistEvent(event domain.Event) {
	metadataStr := ""
	if event.Metadata != nil {
		metadataStr = string(event.Metadata)
	}

	_, err := s.db.Exec(`
		INSERT INTO events (id, timestamp, severity, category, message, source, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Timestamp, event.Severity, event.Category, event.Message, event.Source, metadataStr)
	if err != nil {
		s.logger.Warn("failed to persist event", "event_id", event.ID, "error", err)
	}
}

// Query returns recent events matching the filter with pagination. It is
// served from the ring buffer.
func (s *EventService) Query(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// newest first
	matched := make([]domain.Event, 0, s.count)
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.cfg.RingBufferSize) % s.cfg.RingBufferSize
		event := s.events[idx]
		if event.ID == "" {
			continue
		}
		if matchesFilter(event, query.Filter) {
			matched = append(matched, event)
		}
	}

	total := len(matched)
	start := query.Offset
	if start >= total {
		return &domain.EventQueryResult{Events: []domain.Event{}, Total: total}, nil
	}
	end := start + query.Limit
	if end > total {
		end = total
	}

	return &domain.EventQueryResult{
		Events:  matched[start:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// QueryHistorical queries events from SQLite storage.
func (s *EventService) QueryHistorical(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	if s.db == nil {
		return &domain.EventQueryResult{Events: []domain.Event{}}, nil
	}

	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	var conditions []string
	var args []interface{}

	if query.Filter.Severity != nil {
		conditions = append(conditions, "severity = ?")
		args = append(args, *query.Filter.Severity)
	}
	if query.Filter.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, *query.Filter.Category)
	}
	if query.Filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, query.Filter.Source)
	}
	if query.Filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *query.Filter.StartTime)
	}
	if query.Filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *query.Filter.EndTime)
	}
	if query.Filter.SearchText != "" {
		conditions = append(conditions, "message LIKE ?")
		args = append(args, "%"+query.Filter.SearchText+"%")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events %s", whereClause)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT id, timestamp, severity, category, message, source, metadata
		FROM events %s
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	args = append(args, query.Limit, query.Offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, query.Limit)
	for rows.Next() {
		var event domain.Event
		var metadataStr sql.NullString
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Severity, &event.Category, &event.Message, &event.Source, &metadataStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if metadataStr.Valid && metadataStr.String != "" {
			event.Metadata = json.RawMessage(metadataStr.String)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return &domain.EventQueryResult{
		Events:  events,
		Total:   total,
		HasMore: query.Offset+len(events) < total,
	}, nil
}

// GetRecent returns the most recent N events.
func (s *EventService) GetRecent(n int) []domain.Event {
	if n <= 0 {
		n = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := n
	if count > s.count {
		count = s.count
	}

	result := make([]domain.Event, 0, count)
	for i := 0; i < count; i++ {
		idx := (s.head - 1 - i + s.cfg.RingBufferSize) % s.cfg.RingBufferSize
		event := s.events[idx]
		if event.ID == "" {
			continue
		}
		result = append(result, event)
	}
	return result
}

func matchesFilter(event domain.Event, filter domain.EventFilter) bool {
	if filter.Severity != nil && event.Severity != *filter.Severity {
		return false
	}
	if filter.Category != nil && event.Category != *filter.Category {
		return false
	}
	if filter.Source != "" && event.Source != filter.Source {
		return false
	}
	if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
		return false
	}
	if filter.SearchText != "" && !strings.Contains(strings.ToLower(event.Message), strings.ToLower(filter.SearchText)) {
		return false
	}
	return true
}

// Subscribe registers a live event subscriber. The caller must call
// Unsubscribe when done.
func (s *EventService) Subscribe() (uint64, <-chan domain.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.subSeq++
	id := s.subSeq
	ch := make(chan domain.Event, 100)
	s.subscribers[id] = ch

	s.logger.Info("event subscriber added", "subscriber_id", id, "total_subscribers", len(s.subscribers))
	return id, ch
}

// Unsubscribe removes a live event subscriber.
func (s *EventService) Unsubscribe(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
		s.logger.Info("event subscriber removed", "subscriber_id", id, "total_subscribers", len(s.subscribers))
	}
}

func (s *EventService) notifySubscribers(event domain.Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// subscriber too slow, drop rather than block the emitter
			s.logger.Warn("event subscriber buffer full, dropping event", "subscriber_id", id, "event_id", event.ID)
		}
	}
}

// CleanupOldEvents removes persisted events older than the retention period.
func (s *EventService) CleanupOldEvents(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return fmt.Errorf("delete old events: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.logger.Info("cleaned up old events", "deleted", deleted, "cutoff", cutoff)
	}
	return nil
}
