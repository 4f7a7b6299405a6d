package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/engram-sh/engram/internal/storage/sqlite"
	"github.com/engram-sh/engram/pkg/types"
)

type webhookSink struct {
	mu       sync.Mutex
	payloads []types.WebhookPayload
}

func (s *webhookSink) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload types.WebhookPayload
		_ = json.Unmarshal(body, &payload)
		s.mu.Lock()
		s.payloads = append(s.payloads, payload)
		s.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (s *webhookSink) received() []types.WebhookPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.WebhookPayload(nil), s.payloads...)
}

func newDispatcherFixture(t *testing.T) (*Dispatcher, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewDispatcher(store, time.Second, nil), store
}

func addHook(t *testing.T, store *sqlite.Store, id, url, eventType string, active bool) {
	t.Helper()
	err := store.AddWebhook(context.Background(), types.Webhook{
		ID: id, URL: url, EventType: eventType, Active: active,
	})
	if err != nil {
		t.Fatalf("AddWebhook failed: %v", err)
	}
}

func TestDispatcher_FireDeliversToMatchingHooks(t *testing.T) {
	sink := &webhookSink{}
	server := httptest.NewServer(sink.handler(http.StatusOK))
	defer server.Close()

	dispatcher, store := newDispatcherFixture(t)
	addHook(t, store, "wh_all", server.URL, "*", true)
	addHook(t, store, "wh_add", server.URL, "add_episode", true)
	addHook(t, store, "wh_other", server.URL, "remove_episode", true)
	addHook(t, store, "wh_inactive", server.URL, "add_episode", false)

	if err := dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	dispatcher.Fire("add_episode", map[string]interface{}{"episode_id": "ep_1"})
	dispatcher.Wait()

	payloads := sink.received()
	if len(payloads) != 2 {
		t.Fatalf("expected the wildcard and exact hooks only, got %d deliveries", len(payloads))
	}
	for _, p := range payloads {
		if p.Event != "add_episode" {
			t.Errorf("unexpected event: %s", p.Event)
		}
		if p.Timestamp.IsZero() {
			t.Error("expected payload timestamp")
		}
		data, ok := p.Data.(map[string]interface{})
		if !ok || data["episode_id"] != "ep_1" {
			t.Errorf("unexpected payload data: %+v", p.Data)
		}
	}
}

func TestDispatcher_AtMostOnce(t *testing.T) {
	sink := &webhookSink{}
	server := httptest.NewServer(sink.handler(http.StatusInternalServerError))
	defer server.Close()

	dispatcher, store := newDispatcherFixture(t)
	addHook(t, store, "wh_1", server.URL, "*", true)
	if err := dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	dispatcher.Fire("update_episode", nil)
	dispatcher.Wait()

	// A failing endpoint gets exactly one attempt.
	if got := len(sink.received()); got != 1 {
		t.Errorf("expected a single delivery attempt, got %d", got)
	}
}

func TestDispatcher_ReloadPicksUpRegistryChanges(t *testing.T) {
	sink := &webhookSink{}
	server := httptest.NewServer(sink.handler(http.StatusOK))
	defer server.Close()

	dispatcher, store := newDispatcherFixture(t)
	ctx := context.Background()
	if err := dispatcher.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Registered after Start; invisible until Reload.
	addHook(t, store, "wh_late", server.URL, "*", true)
	dispatcher.Fire("add_episode", nil)
	dispatcher.Wait()
	if len(sink.received()) != 0 {
		t.Fatal("hook must not fire before Reload")
	}

	if err := dispatcher.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	dispatcher.Fire("add_episode", nil)
	dispatcher.Wait()
	if len(sink.received()) != 1 {
		t.Errorf("expected delivery after Reload, got %d", len(sink.received()))
	}
}

func TestDispatcher_UnreachableEndpointDoesNotBlockCaller(t *testing.T) {
	dispatcher, store := newDispatcherFixture(t)
	addHook(t, store, "wh_dead", "http://127.0.0.1:1/hook", "*", true)
	if err := dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	dispatcher.Fire("add_episode", nil)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Fire must return immediately, took %v", elapsed)
	}
	dispatcher.Wait()
}
