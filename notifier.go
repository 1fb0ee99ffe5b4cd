package accounts

import (
	"context"
	"fmt"
	"time"
)

// DefaultLoginURL is linked from approval emails when none is configured.
const DefaultLoginURL = "http://localhost:3000/role-selection"

// NotificationKind selects the email template.
type NotificationKind string

const (
	NotificationApproval  NotificationKind = "approval"
	NotificationRejection NotificationKind = "rejection"
	NotificationTest      NotificationKind = "test"
)

// IsValid reports whether the kind has a template.
func (k NotificationKind) IsValid() bool {
	switch k {
	case NotificationApproval, NotificationRejection, NotificationTest:
		return true
	}
	return false
}

// Notification is everything a mailer needs to render and deliver one email.
type Notification struct {
	Kind         NotificationKind `json:"kind"`
	To           string           `json:"to"`
	FullName     string           `json:"full_name"`
	Role         Role             `json:"role"`
	RoleLabel    string           `json:"role_label"`
	Institution  string           `json:"institution,omitempty"`
	ReviewerName string           `json:"reviewer_name,omitempty"`
	DecidedAt    time.Time        `json:"decided_at"`
	Reason       string           `json:"reason,omitempty"`
	LoginURL     string           `json:"login_url,omitempty"`
}

// Notifier delivers a notification
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// BulkSendResult summarizes a batch of notifications.
type BulkSendResult struct {
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	FailedEmails []string `json:"failed_emails"`
}

// DispatcherOption customizes the dispatcher
type DispatcherOption func(*NotificationDispatcher)

func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *NotificationDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithDispatcherClock(clock func() time.Time) DispatcherOption {
	return func(d *NotificationDispatcher) {
		if clock != nil {
			d.now = clock
		}
	}
}

func WithDispatcherLoginURL(url string) DispatcherOption {
	return func(d *NotificationDispatcher) {
		if url != "" {
			d.loginURL = url
		}
	}
}

// NotificationDispatcher turns decisions into notifications. Delivery
// failures are logged and reported as false, they are never returned.
type NotificationDispatcher struct {
	notifier Notifier
	logger   Logger
	now      func() time.Time
	loginURL string
}

var _ DecisionNotifier = (*NotificationDispatcher)(nil)

// NewNotificationDispatcher wraps a notifier
func NewNotificationDispatcher(notifier Notifier, opts ...DispatcherOption) *NotificationDispatcher {
	d := &NotificationDispatcher{
		notifier: notifier,
		logger:   defLogger{},
		now:      time.Now,
		loginURL: DefaultLoginURL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// NotifyApproval tells the account holder they can log in.
func (d *NotificationDispatcher) NotifyApproval(ctx context.Context, account *Account, reviewer ActorRef) bool {
	n := d.build(NotificationApproval, account, reviewer)
	n.LoginURL = d.loginURL
	return d.deliver(ctx, n)
}

// NotifyRejection tells the account holder their application was declined.
// An empty reason falls back to the stored one.
func (d *NotificationDispatcher) NotifyRejection(ctx context.Context, account *Account, reason string, reviewer ActorRef) bool {
	n := d.build(NotificationRejection, account, reviewer)
	if reason == "" && account != nil {
		reason = account.RejectionReason
	}
	n.Reason = reason
	return d.deliver(ctx, n)
}

// NotifyBulk sends one notification per account.
func (d *NotificationDispatcher) NotifyBulk(ctx context.Context, kind NotificationKind, accounts []*Account, reason string, reviewer ActorRef) BulkSendResult {
	result := BulkSendResult{FailedEmails: []string{}}

	for _, account := range accounts {
		if account == nil {
			continue
		}

		var ok bool
		switch kind {
		case NotificationRejection:
			ok = d.NotifyRejection(ctx, account, reason, reviewer)
		case NotificationTest:
			ok = d.SendTest(ctx, account, reviewer)
		default:
			ok = d.NotifyApproval(ctx, account, reviewer)
		}

		if ok {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		result.FailedEmails = append(result.FailedEmails, account.Email)
	}

	d.logger.Info("bulk notifications",
		"kind", kind,
		"sent", result.SuccessCount,
		"failed", result.FailureCount,
	)
	return result
}

// SendTest sends the test template to the account holder.
func (d *NotificationDispatcher) SendTest(ctx context.Context, account *Account, reviewer ActorRef) bool {
	n := d.build(NotificationTest, account, reviewer)
	n.LoginURL = d.loginURL
	return d.deliver(ctx, n)
}

// Deliver sends a prepared notification and returns the delivery error.
// Command line tooling uses it to surface SMTP problems.
func (d *NotificationDispatcher) Deliver(ctx context.Context, n Notification) (err error) {
	if d.notifier == nil {
		return fmt.Errorf("no notifier configured")
	}
	if n.LoginURL == "" && n.Kind != NotificationRejection {
		n.LoginURL = d.loginURL
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()

	return d.notifier.Send(ctx, n)
}

// BuildNotification prepares a notification for the account.
func (d *NotificationDispatcher) BuildNotification(kind NotificationKind, account *Account, reviewer ActorRef) Notification {
	n := d.build(kind, account, reviewer)
	if kind == NotificationRejection && account != nil {
		n.Reason = account.RejectionReason
	}
	return n
}

func (d *NotificationDispatcher) build(kind NotificationKind, account *Account, reviewer ActorRef) Notification {
	n := Notification{
		Kind:         kind,
		ReviewerName: reviewer.Name,
		DecidedAt:    d.now(),
	}
	if account == nil {
		return n
	}

	n.To = account.Email
	n.FullName = account.DisplayName()
	n.Role = account.Role
	n.RoleLabel = account.Role.Label()
	if account.ReviewedAt != nil {
		n.DecidedAt = *account.ReviewedAt
	}

	switch account.Role {
	case RoleDoctor:
		n.Institution = account.HospitalAffiliation
	case RoleResearcher:
		n.Institution = account.ResearchInstitution
	}
	return n
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n Notification) bool {
	if n.To == "" {
		d.logger.Warn("notification skipped, no recipient", "kind", n.Kind)
		return false
	}

	if err := d.Deliver(ctx, n); err != nil {
		d.logger.Error("failed to send notification",
			"kind", n.Kind,
			"to", n.To,
			"error", err,
		)
		return false
	}

	d.logger.Info("notification sent", "kind", n.Kind, "to", n.To, "name", n.FullName)
	return true
}
