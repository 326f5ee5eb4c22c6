package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

func TestDispatch_DeliversToMatchingSink(t *testing.T) {
	var received int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemSinkStore()
	store.Put(domain.WebhookRegistration{
		ID: "sink1", URL: server.URL, Method: http.MethodPost, Format: domain.FormatDefault,
		EventFilters: []string{"sanctions_touch"}, SeverityFilters: []string{"high"}, Enabled: true,
	})

	d := New(store, RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, RequestTimeout: time.Second})
	err := d.Dispatch(context.Background(), domain.Notification{
		EventType: "sanctions_touch", Severity: "high", Message: "m", EnqueuedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("received = %d, want 1", received)
	}
}

func TestDispatch_SkipsSinkFailingEventFilter(t *testing.T) {
	var received int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemSinkStore()
	store.Put(domain.WebhookRegistration{
		ID: "sink1", URL: server.URL, Format: domain.FormatDefault,
		EventFilters: []string{"other_event"}, Enabled: true,
	})

	d := New(store, RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, RequestTimeout: time.Second})
	err := d.Dispatch(context.Background(), domain.Notification{EventType: "sanctions_touch", Severity: "high"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if atomic.LoadInt32(&received) != 0 {
		t.Errorf("received = %d, want 0 (event filter should have skipped this sink)", received)
	}
}

func TestDispatch_RetriesOnFailureThenReportsError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := NewMemSinkStore()
	store.Put(domain.WebhookRegistration{ID: "sink1", URL: server.URL, Format: domain.FormatDefault, Enabled: true})

	d := New(store, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, RequestTimeout: time.Second})
	err := d.Dispatch(context.Background(), domain.Notification{EventType: "x", Severity: "low"})
	if err == nil {
		t.Fatal("expected an error after retries are exhausted")
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDispatch_OneSinkFailureDoesNotBlockAnother(t *testing.T) {
	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badServer.Close()

	var goodReceived int32
	goodServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&goodReceived, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer goodServer.Close()

	store := NewMemSinkStore()
	store.Put(domain.WebhookRegistration{ID: "bad", URL: badServer.URL, Format: domain.FormatDefault, Enabled: true})
	store.Put(domain.WebhookRegistration{ID: "good", URL: goodServer.URL, Format: domain.FormatDefault, Enabled: true})

	d := New(store, RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, RequestTimeout: time.Second})
	_ = d.Dispatch(context.Background(), domain.Notification{EventType: "x", Severity: "low"})

	if atomic.LoadInt32(&goodReceived) != 1 {
		t.Errorf("goodReceived = %d, want 1 despite the other sink failing", goodReceived)
	}
}

func TestMatchesFilters_EmptyFiltersMatchEverything(t *testing.T) {
	sink := domain.WebhookRegistration{}
	if !matchesFilters(sink, domain.Notification{EventType: "anything", Severity: "anything"}) {
		t.Error("expected empty filters to match any notification")
	}
}
