package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

func TestEvaluate_MatchesGreaterThanCondition(t *testing.T) {
	store := NewMemRuleStore()
	store.Put(domain.AlertRule{
		ID: "r1", Name: "large-transfer", Severity: "high", Enabled: true,
		Conditions:      []domain.AlertCondition{{Field: "amount", Op: domain.OpGreaterThan, Threshold: 1000.0}},
		MessageTemplate: "large transfer of {{.amount}}",
	})
	e := New(store)

	notifications, err := e.Evaluate(context.Background(), "transfer", map[string]interface{}{"amount": 5000.0})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("notifications = %+v, want 1", notifications)
	}
	if notifications[0].Message != "large transfer of 5000" {
		t.Errorf("Message = %q", notifications[0].Message)
	}
}

func TestEvaluate_NoMatchBelowThreshold(t *testing.T) {
	store := NewMemRuleStore()
	store.Put(domain.AlertRule{
		ID: "r1", Name: "large-transfer", Enabled: true,
		Conditions: []domain.AlertCondition{{Field: "amount", Op: domain.OpGreaterThan, Threshold: 1000.0}},
	})
	e := New(store)

	notifications, err := e.Evaluate(context.Background(), "transfer", map[string]interface{}{"amount": 10.0})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(notifications) != 0 {
		t.Errorf("notifications = %+v, want none", notifications)
	}
}

func TestEvaluate_RateLimitSuppressesRepeat(t *testing.T) {
	store := NewMemRuleStore()
	store.Put(domain.AlertRule{
		ID: "r1", Name: "always", Enabled: true, RateLimitWindow: time.Hour,
		Conditions: []domain.AlertCondition{{Field: "x", Op: domain.OpGreaterThan, Threshold: 0.0}},
	})
	e := New(store)
	ctx := context.Background()
	event := map[string]interface{}{"x": 1.0}

	first, err := e.Evaluate(ctx, "tick", event)
	if err != nil {
		t.Fatalf("first Evaluate() error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first notifications = %+v, want 1", first)
	}

	second, err := e.Evaluate(ctx, "tick", event)
	if err != nil {
		t.Fatalf("second Evaluate() error = %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second notifications = %+v, want none (rate limited)", second)
	}
}

func TestEvaluate_DisabledRuleNeverMatches(t *testing.T) {
	store := NewMemRuleStore()
	store.Put(domain.AlertRule{
		ID: "r1", Name: "disabled", Enabled: false,
		Conditions: []domain.AlertCondition{{Field: "x", Op: domain.OpGreaterThan, Threshold: 0.0}},
	})
	e := New(store)

	notifications, err := e.Evaluate(context.Background(), "tick", map[string]interface{}{"x": 100.0})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(notifications) != 0 {
		t.Errorf("notifications = %+v, want none", notifications)
	}
}

func TestEvaluate_ContainsOperator(t *testing.T) {
	store := NewMemRuleStore()
	store.Put(domain.AlertRule{
		ID: "r1", Name: "sanctioned-label", Enabled: true,
		Conditions: []domain.AlertCondition{{Field: "labels", Op: domain.OpContains, Threshold: "sanctions"}},
	})
	e := New(store)

	notifications, err := e.Evaluate(context.Background(), "label", map[string]interface{}{"labels": "sanctions,darknet-market"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(notifications) != 1 {
		t.Errorf("notifications = %+v, want 1", notifications)
	}
}

func TestEvaluate_MissingFieldDoesNotMatch(t *testing.T) {
	store := NewMemRuleStore()
	store.Put(domain.AlertRule{
		ID: "r1", Name: "missing-field", Enabled: true,
		Conditions: []domain.AlertCondition{{Field: "nope", Op: domain.OpEqual, Threshold: "x"}},
	})
	e := New(store)

	notifications, err := e.Evaluate(context.Background(), "tick", map[string]interface{}{"x": 1.0})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(notifications) != 0 {
		t.Errorf("notifications = %+v, want none", notifications)
	}
}
