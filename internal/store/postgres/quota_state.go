package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/logweir/logweir/internal/models"
)

// QuotaStateStore implements store.QuotaStateStore using PostgreSQL.
// The coordinator writes its window through here on every accepted check so
// that a redeploy never silently resets quotas.
type QuotaStateStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Load retrieves the persisted window for a coordinator identity.
// A missing row yields (nil, nil).
func (s *QuotaStateStore) Load(ctx context.Context, identity string) (*models.QuotaWindow, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM quota_state WHERE key = $1", identity).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading quota state: %w", err)
	}

	var window models.QuotaWindow
	if err := json.Unmarshal(state, &window); err != nil {
		return nil, fmt.Errorf("unmarshaling quota state: %w", err)
	}
	if window.SystemCurrent == nil {
		window.SystemCurrent = make(map[models.System]int)
	}
	if window.TraceCurrent == nil {
		window.TraceCurrent = make(map[string]int)
	}
	return &window, nil
}

// Save writes the window for a coordinator identity.
func (s *QuotaStateStore) Save(ctx context.Context, identity string, window *models.QuotaWindow) error {
	state, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("marshaling quota state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quota_state (key, state, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET state = $2, updated_at = CURRENT_TIMESTAMP
	`, identity, state)
	if err != nil {
		return fmt.Errorf("saving quota state: %w", err)
	}
	return nil
}
