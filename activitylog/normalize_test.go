package activitylog_test

import (
	"testing"
	"time"

	accounts "github.com/lungvision/go-accounts"
	"github.com/lungvision/go-accounts/activitylog"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := accounts.ActivityEvent{
		EventType:  accounts.ActivityEventStatusChanged,
		Actor:      accounts.ActorRef{ID: "admin-42", Type: "admin", Name: "Grace"},
		AccountID:  "account-100",
		FromStatus: accounts.StatusPending,
		ToStatus:   accounts.StatusApproved,
		Metadata: map[string]any{
			"reason": "",
		},
		OccurredAt: ts,
	}

	out := activitylog.Normalize(event)

	if out.ActorID != "admin-42" {
		t.Fatalf("expected actor_id admin-42, got %q", out.ActorID)
	}
	if out.ActorType != "admin" {
		t.Fatalf("expected actor_type admin, got %q", out.ActorType)
	}
	if out.Verb != string(accounts.ActivityEventStatusChanged) {
		t.Fatalf("expected verb %q, got %q", accounts.ActivityEventStatusChanged, out.Verb)
	}
	if out.ObjectID != "account-100" {
		t.Fatalf("expected object_id account-100, got %q", out.ObjectID)
	}
	if out.FromStatus != "pending" || out.ToStatus != "approved" {
		t.Fatalf("expected pending -> approved, got %q -> %q", out.FromStatus, out.ToStatus)
	}
	if out.Channel != "accounts" {
		t.Fatalf("expected channel accounts, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}
	if out.Metadata[activitylog.MetadataKeyActorName] != "Grace" {
		t.Fatalf("expected metadata actor_name Grace, got %#v", out.Metadata[activitylog.MetadataKeyActorName])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := accounts.ActivityEvent{
		EventType: accounts.ActivityEventLoginFailure,
		Actor:     accounts.ActorRef{Type: "unknown"},
		Metadata: map[string]any{
			activitylog.MetadataKeyActorType: "existing",
		},
	}

	out := activitylog.Normalize(
		event,
		activitylog.WithDefaultChannel("security"),
		activitylog.WithClock(func() time.Time { return clock }),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.Metadata[activitylog.MetadataKeyActorType] != "existing" {
		t.Fatalf("expected existing actor_type preserved, got %#v", out.Metadata[activitylog.MetadataKeyActorType])
	}
	if !out.OccurredAt.Equal(clock) {
		t.Fatalf("expected occurred_at from clock, got %v", out.OccurredAt)
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  accounts.ActivityEvent
		opts   []activitylog.Option
		expect string
	}{
		{
			name:   "uses actor id when present",
			event:  accounts.ActivityEvent{Actor: accounts.ActorRef{ID: "actor-1"}, AccountID: "account-1"},
			expect: "actor-1",
		},
		{
			name:   "uses default fallback when actor missing",
			event:  accounts.ActivityEvent{AccountID: "account-2"},
			expect: "system",
		},
		{
			name:   "uses configured fallback when actor missing",
			event:  accounts.ActivityEvent{},
			opts:   []activitylog.Option{activitylog.WithActorFallback("cli")},
			expect: "cli",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitylog.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}
