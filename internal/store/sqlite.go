package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/ashureev/shopilots-chat/internal/shared"
)

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements EventStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed event archive.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversation_events (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		question TEXT NOT NULL DEFAULT '',
		answer TEXT NOT NULL DEFAULT '',
		response_time_ms REAL,
		docs_retrieved INTEGER,
		sources_json TEXT,
		error TEXT NOT NULL DEFAULT '',
		model_used TEXT NOT NULL DEFAULT '',
		answer_length INTEGER,
		product_category TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON conversation_events(ts);
	CREATE INDEX IF NOT EXISTS idx_events_session ON conversation_events(session_id, ts);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveEvent archives ev. It retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev domain.ConversationEvent) error {
	var err error
	for i := range maxRetries {
		err = s.saveEventOnce(ctx, ev)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms
		slog.Debug("SaveEvent failed with SQLITE_BUSY, retrying",
			"session_id", ev.SessionID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("save event for %s: %w", ev.SessionID, err)
}

func (s *SQLiteStore) saveEventOnce(ctx context.Context, ev domain.ConversationEvent) error {
	query := `
	INSERT INTO conversation_events (
		id, ts, session_id, event_type, question, answer, response_time_ms,
		docs_retrieved, sources_json, error, model_used, answer_length,
		product_category, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var sources interface{}
	if ev.Sources != nil {
		data, err := json.Marshal(ev.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		sources = string(data)
	}

	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), ev.Timestamp.UnixNano(), ev.SessionID, string(ev.EventType),
		ev.Question, ev.Answer, nullable(ev.ResponseTimeMs),
		nullable(ev.DocsRetrieved), sources, ev.Error, ev.ModelUsed,
		nullable(ev.AnswerLength), ev.ProductCategory, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events matching filter, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]domain.ConversationEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT ts, session_id, event_type, question, answer, response_time_ms,
		       docs_retrieved, sources_json, error, model_used, answer_length, product_category
		FROM conversation_events`
	var args []interface{}
	if filter.SessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, filter.SessionID)
	}
	query += ` ORDER BY ts DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	var events []domain.ConversationEvent
	for rows.Next() {
		var (
			ev            domain.ConversationEvent
			ts            int64
			eventType     string
			responseTime  sql.NullFloat64
			docsRetrieved sql.NullInt64
			sourcesJSON   sql.NullString
			answerLength  sql.NullInt64
		)
		if err := rows.Scan(
			&ts, &ev.SessionID, &eventType, &ev.Question, &ev.Answer, &responseTime,
			&docsRetrieved, &sourcesJSON, &ev.Error, &ev.ModelUsed, &answerLength, &ev.ProductCategory,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		ev.Timestamp = time.Unix(0, ts).UTC()
		ev.EventType = domain.EventType(eventType)
		if responseTime.Valid {
			ev.ResponseTimeMs = domain.Float(responseTime.Float64)
		}
		if docsRetrieved.Valid {
			ev.DocsRetrieved = domain.Int(int(docsRetrieved.Int64))
		}
		if answerLength.Valid {
			ev.AnswerLength = domain.Int(int(answerLength.Int64))
		}
		if sourcesJSON.Valid {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &ev.Sources); err != nil {
				return nil, fmt.Errorf("decode sources: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	slices.Reverse(events)
	return events, nil
}

func nullable[T any](v *T) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
