// Package webhook implements C11, the Webhook Dispatcher: fans a
// Notification out to every matching sink in parallel, delivering to each
// sink serially with bounded-attempt retry (spec §4.7).
package webhook

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
	"github.com/jackdawsentry/sentry-core/internal/webhook/format"
)

// SinkStore persists webhook registrations and their delivery bookkeeping.
type SinkStore interface {
	Sinks(ctx context.Context) ([]domain.WebhookRegistration, error)
	Touch(ctx context.Context, sinkID string, deliveredAt time.Time) error
}

// MemSinkStore is an in-memory SinkStore.
type MemSinkStore struct {
	mu    sync.Mutex
	sinks map[string]domain.WebhookRegistration
}

func NewMemSinkStore() *MemSinkStore {
	return &MemSinkStore{sinks: make(map[string]domain.WebhookRegistration)}
}

func (s *MemSinkStore) Put(sink domain.WebhookRegistration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks[sink.ID] = sink
}

func (s *MemSinkStore) Sinks(ctx context.Context) ([]domain.WebhookRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WebhookRegistration, 0, len(s.sinks))
	for _, sink := range s.sinks {
		out = append(out, sink)
	}
	return out, nil
}

func (s *MemSinkStore) Touch(ctx context.Context, sinkID string, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink, ok := s.sinks[sinkID]
	if !ok {
		return nil
	}
	sink.LastDeliveredAt = deliveredAt
	s.sinks[sinkID] = sink
	return nil
}

// RetryConfig bounds delivery attempts and their exponential backoff.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	RequestTimeout time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, RequestTimeout: 10 * time.Second}
}

// Dispatcher is C11's public contract.
type Dispatcher struct {
	store  SinkStore
	client *http.Client
	retry  RetryConfig
	logger *logging.Logger
}

func New(store SinkStore, retry RetryConfig) *Dispatcher {
	if retry.MaxAttempts == 0 {
		retry = defaultRetryConfig()
	}
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: retry.RequestTimeout},
		retry:  retry,
		logger: logging.New("webhook-dispatcher", "info", "json"),
	}
}

// Dispatch fans n out to every matching, enabled sink in parallel. A
// sink's own deliveries are serialised by virtue of one goroutine per sink
// calling deliver sequentially for each of its attempts. Per-sink failures
// are collected but never block delivery to other sinks (spec §4.7).
func (d *Dispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	sinks, err := d.store.Sinks(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error

	for _, sink := range sinks {
		if !sink.Enabled || !matchesFilters(sink, n) {
			continue
		}
		if sink.MinDeliveryInterval > 0 && !sink.LastDeliveredAt.IsZero() && now.Sub(sink.LastDeliveredAt) < sink.MinDeliveryInterval {
			continue
		}

		wg.Add(1)
		go func(sink domain.WebhookRegistration) {
			defer wg.Done()
			if err := d.deliverWithRetry(ctx, sink, n); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				d.logger.WithError(err).WithFields(map[string]interface{}{"sink_id": sink.ID}).
					Warn("webhook delivery exhausted retries")
				return
			}
			if err := d.store.Touch(ctx, sink.ID, time.Now().UTC()); err != nil {
				d.logger.WithError(err).WithFields(map[string]interface{}{"sink_id": sink.ID}).
					Warn("failed to record webhook delivery timestamp")
			}
		}(sink)
	}
	wg.Wait()

	return errs.ErrorOrNil()
}

func matchesFilters(sink domain.WebhookRegistration, n domain.Notification) bool {
	if len(sink.EventFilters) > 0 && !containsAny(sink.EventFilters, n.EventType) {
		return false
	}
	if len(sink.SeverityFilters) > 0 && !containsAny(sink.SeverityFilters, n.Severity) {
		return false
	}
	return true
}

func containsAny(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, sink domain.WebhookRegistration, n domain.Notification) error {
	var lastErr error
	for attempt := 0; attempt < d.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retry.BaseDelay * time.Duration(1<<uint(attempt-1))):
			}
		}

		if err := d.deliverOnce(ctx, sink, n); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (d *Dispatcher) deliverOnce(ctx context.Context, sink domain.WebhookRegistration, n domain.Notification) error {
	body, err := format.Render(sink.Format, n)
	if err != nil {
		return err
	}

	method := sink.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, sink.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range sink.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	d.logger.LogServiceCall(ctx, sink.URL, method, time.Since(start), err)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &deliveryError{sinkID: sink.ID, status: resp.StatusCode}
	}
	return nil
}

type deliveryError struct {
	sinkID string
	status int
}

func (e *deliveryError) Error() string {
	return "webhook delivery to " + e.sinkID + " failed with status " + http.StatusText(e.status)
}
