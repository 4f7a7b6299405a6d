package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// AddWebhook persists a webhook registration.
func (s *Store) AddWebhook(ctx context.Context, hook types.Webhook) error {
	if hook.ID == "" {
		return fmt.Errorf("%w: webhook ID is required", storage.ErrValidation)
	}
	if hook.URL == "" {
		return fmt.Errorf("%w: webhook URL is required", storage.ErrValidation)
	}
	if hook.EventType == "" {
		hook.EventType = types.WebhookEventAll
	}
	if hook.CreatedAt.IsZero() {
		hook.CreatedAt = time.Now().UTC()
	}

	active := 0
	if hook.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, url, event_type, active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		hook.ID, hook.URL, hook.EventType, active, hook.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: add webhook: %v", storage.ErrStore, err)
	}
	return nil
}

// ListWebhooks returns every registered webhook, oldest first.
func (s *Store) ListWebhooks(ctx context.Context) ([]types.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, event_type, active, created_at
		FROM webhooks
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list webhooks: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	var hooks []types.Webhook
	for rows.Next() {
		var hook types.Webhook
		var active int
		if err := rows.Scan(&hook.ID, &hook.URL, &hook.EventType, &active, &hook.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan webhook: %v", storage.ErrStore, err)
		}
		hook.Active = active != 0
		hooks = append(hooks, hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate webhooks: %v", storage.ErrStore, err)
	}
	return hooks, nil
}

// RemoveWebhook deletes a webhook registration by ID.
func (s *Store) RemoveWebhook(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: webhook ID is required", storage.ErrValidation)
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM webhooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: remove webhook: %v", storage.ErrStore, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: remove webhook rows affected: %v", storage.ErrStore, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
