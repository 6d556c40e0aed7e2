package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/logweir/logweir/internal/models"
	"github.com/logweir/logweir/internal/store"
)

// EventStore implements store.EventStore using PostgreSQL.
type EventStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Upsert writes an event keyed by its sync key. The insert is idempotent by
// construction: a conflicting key leaves the existing row untouched.
func (s *EventStore) Upsert(ctx context.Context, event *models.LogEvent) (bool, error) {
	query := `
		INSERT INTO log_events (sync_key, id, trace_id, user_id, level, system, message, timestamp, context, stack, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (sync_key) DO NOTHING`

	var contextJSON []byte
	if event.Context != nil {
		var err error
		contextJSON, err = json.Marshal(event.Context)
		if err != nil {
			return false, fmt.Errorf("marshaling event context: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, query,
		event.SyncKey(),
		event.ID,
		nullString(event.TraceID),
		nullString(event.UserID),
		string(event.Level),
		string(event.System),
		event.Message,
		event.Timestamp,
		contextJSON,
		nullString(event.Stack),
		event.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upserting log event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByTrace retrieves all events for a trace, oldest first.
func (s *EventStore) ListByTrace(ctx context.Context, traceID string) ([]*models.LogEvent, error) {
	query := selectColumns + `
		FROM log_events
		WHERE trace_id = $1
		ORDER BY timestamp ASC, received_at ASC`

	rows, err := s.db.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, fmt.Errorf("querying events by trace: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// ListByUser retrieves all events for a user, oldest first.
func (s *EventStore) ListByUser(ctx context.Context, userID string) ([]*models.LogEvent, error) {
	query := selectColumns + `
		FROM log_events
		WHERE user_id = $1
		ORDER BY timestamp ASC, received_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying events by user: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// Search retrieves events matching the filter, oldest first.
func (s *EventStore) Search(ctx context.Context, filter store.EventFilter) ([]*models.LogEvent, error) {
	var conditions []string
	var args []any

	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.TraceID != "" {
		addCondition("trace_id = $%d", filter.TraceID)
	}
	if filter.UserID != "" {
		addCondition("user_id = $%d", filter.UserID)
	}
	if filter.System != "" {
		addCondition("system = $%d", string(filter.System))
	}
	if filter.Level != "" {
		addCondition("level = $%d", string(filter.Level))
	}
	if filter.Since > 0 {
		addCondition("timestamp >= $%d", filter.Since)
	}
	if filter.Until > 0 {
		addCondition("timestamp <= $%d", filter.Until)
	}

	query := selectColumns + " FROM log_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp ASC, received_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// Count returns the total number of stored events.
func (s *EventStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return count, nil
}

const selectColumns = `
		SELECT id, trace_id, user_id, level, system, message, timestamp, context, stack, received_at`

// scanEvents scans multiple log event rows.
func (s *EventStore) scanEvents(rows *sql.Rows) ([]*models.LogEvent, error) {
	var events []*models.LogEvent

	for rows.Next() {
		event := &models.LogEvent{}
		var traceID, userID, stack sql.NullString
		var level, system string
		var contextJSON []byte

		err := rows.Scan(
			&event.ID,
			&traceID,
			&userID,
			&level,
			&system,
			&event.Message,
			&event.Timestamp,
			&contextJSON,
			&stack,
			&event.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		event.TraceID = traceID.String
		event.UserID = userID.String
		event.Stack = stack.String
		event.Level = models.Level(level)
		event.System = models.System(system)

		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &event.Context); err != nil {
				s.logger.Warn("dropping unparsable event context", "event_id", event.ID, "error", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
