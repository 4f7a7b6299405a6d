package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// RegisterWebhook persists an endpoint and refreshes the dispatcher cache.
// eventType "" subscribes to everything.
func (s *Service) RegisterWebhook(ctx context.Context, rawURL, eventType string) (*types.Webhook, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: webhook url must be http(s)", storage.ErrValidation)
	}
	if eventType == "" {
		eventType = types.WebhookEventAll
	}

	hook := types.Webhook{
		ID:        uuid.NewString(),
		URL:       rawURL,
		EventType: eventType,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AddWebhook(ctx, hook); err != nil {
		return nil, err
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Reload(ctx); err != nil {
			s.log.Printf("[service] reload webhook registry: %v", err)
		}
	}
	if s.audit != nil {
		s.audit.Record("register_webhook", map[string]interface{}{
			"webhook_id": hook.ID,
			"url":        hook.URL,
			"event_type": hook.EventType,
		})
	}
	return &hook, nil
}

// ListWebhooks returns the persisted registry.
func (s *Service) ListWebhooks(ctx context.Context) ([]types.Webhook, error) {
	return s.store.ListWebhooks(ctx)
}

// RemoveWebhook deletes a registration.
func (s *Service) RemoveWebhook(ctx context.Context, id string) error {
	if err := s.store.RemoveWebhook(ctx, id); err != nil {
		return err
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Reload(ctx); err != nil {
			s.log.Printf("[service] reload webhook registry: %v", err)
		}
	}
	if s.audit != nil {
		s.audit.Record("remove_webhook", map[string]interface{}{"webhook_id": id})
	}
	return nil
}
