// Package alerting implements C10, the Alert Rule Engine: evaluates
// registered rules against incoming events and enqueues notifications for
// the webhook dispatcher (spec §4.7).
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

// RuleStore persists alert rules and their last-emission bookkeeping.
type RuleStore interface {
	Rules(ctx context.Context) ([]domain.AlertRule, error)
	Touch(ctx context.Context, ruleID string, emittedAt time.Time) error
}

// MemRuleStore is an in-memory RuleStore, keyed by rule ID.
type MemRuleStore struct {
	mu    sync.Mutex
	rules map[string]domain.AlertRule
}

func NewMemRuleStore() *MemRuleStore {
	return &MemRuleStore{rules: make(map[string]domain.AlertRule)}
}

func (s *MemRuleStore) Put(rule domain.AlertRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
}

func (s *MemRuleStore) Rules(ctx context.Context) ([]domain.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AlertRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemRuleStore) Touch(ctx context.Context, ruleID string, emittedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %s not found", ruleID)
	}
	rule.LastEmittedAt = emittedAt
	s.rules[ruleID] = rule
	return nil
}

// Engine is C10's public contract.
type Engine struct {
	store RuleStore
}

func New(store RuleStore) *Engine {
	return &Engine{store: store}
}

// Evaluate walks every enabled rule against event, rendering a Notification
// for each match whose rate-limit window has elapsed (spec §4.7).
func (e *Engine) Evaluate(ctx context.Context, eventType string, event map[string]interface{}) ([]domain.Notification, error) {
	rules, err := e.store.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	now := time.Now().UTC()
	var notifications []domain.Notification
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.RateLimitWindow > 0 && !rule.LastEmittedAt.IsZero() && now.Sub(rule.LastEmittedAt) < rule.RateLimitWindow {
			continue
		}
		if !matchesAllConditions(rule.Conditions, eventJSON) {
			continue
		}

		message, err := renderMessage(rule.MessageTemplate, event)
		if err != nil {
			return nil, fmt.Errorf("render message for rule %s: %w", rule.Name, err)
		}

		notifications = append(notifications, domain.Notification{
			ID: uuid.NewString(), EventType: eventType, Severity: rule.Severity,
			Message: message, Data: event, EnqueuedAt: now,
		})

		if err := e.store.Touch(ctx, rule.ID, now); err != nil {
			return nil, fmt.Errorf("touch rule %s: %w", rule.ID, err)
		}
	}
	return notifications, nil
}

func matchesAllConditions(conditions []domain.AlertCondition, eventJSON []byte) bool {
	for _, cond := range conditions {
		if !matchesCondition(cond, eventJSON) {
			return false
		}
	}
	return true
}

func matchesCondition(cond domain.AlertCondition, eventJSON []byte) bool {
	actual := gjson.GetBytes(eventJSON, cond.Field)
	if !actual.Exists() {
		return false
	}

	switch cond.Op {
	case domain.OpContains:
		return containsString(actual.String(), cond.Threshold)
	case domain.OpNotContains:
		return !containsString(actual.String(), cond.Threshold)
	case domain.OpEqual:
		return compareEqual(actual, cond.Threshold)
	case domain.OpNotEqual:
		return !compareEqual(actual, cond.Threshold)
	case domain.OpGreaterThan:
		return actual.Num > thresholdFloat(cond.Threshold)
	case domain.OpLessThan:
		return actual.Num < thresholdFloat(cond.Threshold)
	case domain.OpGreaterOrEqual:
		return actual.Num >= thresholdFloat(cond.Threshold)
	case domain.OpLessOrEqual:
		return actual.Num <= thresholdFloat(cond.Threshold)
	default:
		return false
	}
}

func containsString(haystack string, threshold interface{}) bool {
	needle, ok := threshold.(string)
	if !ok {
		return false
	}
	return strings.Contains(haystack, needle)
}

func compareEqual(actual gjson.Result, threshold interface{}) bool {
	switch t := threshold.(type) {
	case string:
		return actual.String() == t
	case float64:
		return actual.Num == t
	case int:
		return actual.Num == float64(t)
	case bool:
		return actual.Bool() == t
	default:
		return false
	}
}

func thresholdFloat(threshold interface{}) float64 {
	switch t := threshold.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}

func renderMessage(tmpl string, event map[string]interface{}) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	t, err := template.New("alert").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse message template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, event); err != nil {
		return "", fmt.Errorf("execute message template: %w", err)
	}
	return buf.String(), nil
}
