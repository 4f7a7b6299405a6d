package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// DefaultWebhookTimeout bounds one delivery attempt. Webhooks are
// best-effort, at-most-once: failures are logged, never retried.
const DefaultWebhookTimeout = 2 * time.Second

// Dispatcher posts mutation notifications to registered webhooks. The
// registry is persisted in the store and cached here; Reload refreshes the
// cache after registration changes. A token-bucket limiter keeps a burst of
// writes from hammering slow endpoints.
type Dispatcher struct {
	store   storage.WebhookStore
	client  *http.Client
	limiter *rate.Limiter
	log     *log.Logger

	mu    sync.RWMutex
	hooks []types.Webhook

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. timeout <= 0 takes the default.
func NewDispatcher(store storage.WebhookStore, timeout time.Duration, logger *log.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		store:   store,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		log:     logger,
	}
}

// Start loads the persisted registry.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.Reload(ctx)
}

// Reload refreshes the cached registry from the store.
func (d *Dispatcher) Reload(ctx context.Context) error {
	hooks, err := d.store.ListWebhooks(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.hooks = hooks
	d.mu.Unlock()
	return nil
}

// Fire delivers the event to every matching active webhook in the
// background. It returns immediately; the originating operation never waits
// on webhook endpoints.
func (d *Dispatcher) Fire(event string, data interface{}) {
	d.mu.RLock()
	var targets []types.Webhook
	for _, h := range d.hooks {
		if h.Active && h.Matches(event) {
			targets = append(targets, h)
		}
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	payload := types.WebhookPayload{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Printf("[webhook] encode payload for %s: %v", event, err)
		return
	}

	for _, hook := range targets {
		d.wg.Add(1)
		go func(hook types.Webhook) {
			defer d.wg.Done()
			d.post(hook, event, body)
		}(hook)
	}
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in
// tests; normal operation never calls it.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) post(hook types.Webhook, event string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		d.log.Printf("[webhook] %s rate limit wait for %s: %v", hook.URL, event, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		d.log.Printf("[webhook] %s build request: %v", hook.URL, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Printf("[webhook] %s delivery failed for %s: %v", hook.URL, event, err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.log.Printf("[webhook] %s returned %d for %s", hook.URL, resp.StatusCode, event)
	}
}
