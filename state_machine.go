package accounts

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
	Name string
}

// SystemActor is used when no actor is provided.
var SystemActor = ActorRef{Type: "system"}

// AccountActor builds an actor reference for an account.
func AccountActor(a *Account) ActorRef {
	if a == nil {
		return SystemActor
	}
	actorType := "account"
	if a.IsAdmin() || a.IsStaff {
		actorType = "admin"
	}
	return ActorRef{
		ID:   a.ID.String(),
		Type: actorType,
		Name: a.DisplayName(),
	}
}

func (a ActorRef) reviewerID() *uuid.UUID {
	id, err := uuid.Parse(a.ID)
	if err != nil || id == uuid.Nil {
		return nil
	}
	return &id
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Account *Account
	From    AccountStatus
	To      AccountStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// DecisionNotifier is told about approvals and rejections once they are
// persisted. It reports delivery and never fails the transition.
type DecisionNotifier interface {
	NotifyApproval(ctx context.Context, account *Account, reviewer ActorRef) bool
	NotifyRejection(ctx context.Context, account *Account, reason string, reviewer ActorRef) bool
}

// TransitionResult describes what a transition did.
type TransitionResult struct {
	Account *Account
	From    AccountStatus
	To      AccountStatus
	// Skipped is set when WithSkipUnchanged turned the request into a no-op.
	Skipped bool
	// NotificationAttempted is false for resets, WithoutNotification and when
	// no notifier is configured.
	NotificationAttempted bool
	NotificationSent      bool
	// HookErr holds an after hook failure. The decision was persisted.
	HookErr error

	pending func(context.Context)
}

// Complete runs the work held back by WithTransitionTx. It is a no-op for
// transitions that ran without a caller transaction.
func (r *TransitionResult) Complete(ctx context.Context) {
	if r == nil || r.pending == nil {
		return
	}
	pending := r.pending
	r.pending = nil
	pending(ctx)
}

// NotificationFailed reports an attempted notification that did not go out.
func (r *TransitionResult) NotificationFailed() bool {
	return r != nil && r.NotificationAttempted && !r.NotificationSent
}

// ApprovalStateMachine is the only writer of account status.
type ApprovalStateMachine interface {
	Approve(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*TransitionResult, error)
	Reject(ctx context.Context, actor ActorRef, account *Account, reason string, opts ...TransitionOption) (*TransitionResult, error)
	ResetToPending(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*TransitionResult, error)
	Transition(ctx context.Context, actor ActorRef, account *Account, target AccountStatus, opts ...TransitionOption) (*TransitionResult, error)
	CurrentStatus(account *Account) AccountStatus

	BulkApprove(ctx context.Context, actor ActorRef, accounts []*Account, opts ...TransitionOption) BulkResult
	BulkReject(ctx context.Context, actor ActorRef, accounts []*Account, reason string, opts ...TransitionOption) BulkResult
	BulkResetToPending(ctx context.Context, actor ActorRef, accounts []*Account, opts ...TransitionOption) BulkResult
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*approvalStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *approvalStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *approvalStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *approvalStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink and delivery failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *approvalStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineNotifier sets who gets told about decisions.
func WithStateMachineNotifier(notifier DecisionNotifier) StateMachineOption {
	return func(sm *approvalStateMachine) {
		sm.notifier = notifier
	}
}

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	metadata      TransitionMetadata
	skipNotify    bool
	skipUnchanged bool
	beforeHooks   []TransitionHook
	afterHooks    []TransitionHook
	tx            bun.IDB
}

// WithTransitionReason sets the human-readable reason for the transition.
// For rejections it is the stored rejection reason.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithoutNotification persists the decision without telling the account holder.
func WithoutNotification() TransitionOption {
	return func(opts *transitionOptions) {
		opts.skipNotify = true
	}
}

// WithSkipUnchanged turns a request for the current status into a no-op.
func WithSkipUnchanged() TransitionOption {
	return func(opts *transitionOptions) {
		opts.skipUnchanged = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// WithTransitionTx writes the decision through tx. After hooks, activity and
// notification wait for TransitionResult.Complete, which the caller runs
// once tx has committed.
func WithTransitionTx(tx bun.IDB) TransitionOption {
	return func(opts *transitionOptions) {
		opts.tx = tx
	}
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

type approvalStateMachine struct {
	accounts         Accounts
	notifier         DecisionNotifier
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

// NewApprovalStateMachine returns the default implementation backed by the provided repository.
func NewApprovalStateMachine(accounts Accounts, opts ...StateMachineOption) ApprovalStateMachine {
	sm := &approvalStateMachine{
		accounts:     accounts,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		hookErrorHandler: func(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
			return goerrors.Wrap(err, goerrors.CategoryOperation, string(phase)+" hook failed").
				WithMetadata(map[string]any{
					"account_id": tc.Account.ID.String(),
					"from":       tc.From,
					"to":         tc.To,
				})
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

func (sm *approvalStateMachine) Approve(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*TransitionResult, error) {
	return sm.Transition(ctx, actor, account, StatusApproved, opts...)
}

func (sm *approvalStateMachine) Reject(ctx context.Context, actor ActorRef, account *Account, reason string, opts ...TransitionOption) (*TransitionResult, error) {
	opts = append(opts, WithTransitionReason(reason))
	return sm.Transition(ctx, actor, account, StatusRejected, opts...)
}

func (sm *approvalStateMachine) ResetToPending(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*TransitionResult, error) {
	return sm.Transition(ctx, actor, account, StatusPending, opts...)
}

func (sm *approvalStateMachine) Transition(ctx context.Context, actor ActorRef, account *Account, target AccountStatus, opts ...TransitionOption) (*TransitionResult, error) {
	if account == nil {
		return nil, invalidTransition(map[string]any{
			"target": target,
			"reason": "account is nil",
		})
	}

	if !target.IsValid() {
		return nil, invalidTransition(map[string]any{
			"target": target,
			"reason": "unknown target status",
		})
	}

	if actor == (ActorRef{}) {
		actor = SystemActor
	}

	account.EnsureStatus()
	from := account.Status
	options := sm.buildTransitionOptions(opts...)

	if options.skipUnchanged && from == target {
		return &TransitionResult{Account: account, From: from, To: target, Skipped: true}, nil
	}

	tc := TransitionContext{
		Actor:   actor,
		Account: account,
		From:    from,
		To:      target,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return nil, err
	}

	next := *account
	sm.applyDecision(&next, actor, target, strings.TrimSpace(options.metadata.Reason))

	var updated *Account
	var err error
	if options.tx != nil {
		updated, err = sm.accounts.SaveDecisionTx(ctx, options.tx, &next)
	} else {
		updated, err = sm.accounts.SaveDecision(ctx, &next)
	}
	if err != nil {
		return nil, err
	}
	if updated == nil {
		updated = &next
	}
	*account = *updated

	result := &TransitionResult{Account: account, From: from, To: target}
	finish := func(ctx context.Context) {
		sm.afterPersist(ctx, actor, tc, options, result)
	}

	if options.tx != nil {
		result.pending = finish
		return result, nil
	}

	finish(ctx)
	return result, nil
}

// afterPersist runs once the decision is durable. Nothing here can undo it.
func (sm *approvalStateMachine) afterPersist(ctx context.Context, actor ActorRef, tc TransitionContext, options *transitionOptions, result *TransitionResult) {
	account := result.Account

	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		result.HookErr = err
		sm.logger.Warn("after transition hook failed",
			"account_id", account.ID,
			"to", tc.To,
			"error", err,
		)
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventStatusChanged,
		Actor:      actor,
		AccountID:  account.ID.String(),
		FromStatus: tc.From,
		ToStatus:   tc.To,
		Metadata:   sm.transitionMetadata(tc.Meta),
	})

	if !options.skipNotify {
		sm.notify(ctx, actor, account, result)
	}
}

func invalidTransition(meta map[string]any) error {
	return goerrors.AddContext(ErrInvalidTransition, ErrInvalidTransition.Message).WithMetadata(meta)
}

func (sm *approvalStateMachine) CurrentStatus(account *Account) AccountStatus {
	if account == nil {
		return ""
	}
	account.EnsureStatus()
	return account.Status
}

func (sm *approvalStateMachine) applyDecision(account *Account, actor ActorRef, target AccountStatus, reason string) {
	now := sm.now()
	account.Status = target
	account.UpdatedAt = &now

	switch target {
	case StatusApproved:
		account.RejectionReason = ""
		account.ReviewedBy = actor.reviewerID()
		account.ReviewedAt = &now
	case StatusRejected:
		account.RejectionReason = reason
		account.ReviewedBy = actor.reviewerID()
		account.ReviewedAt = &now
	case StatusPending:
		account.RejectionReason = ""
		account.ReviewedBy = nil
		account.ReviewedAt = nil
	}
}

// notify runs after the decision is durable. Failures only land in the result.
func (sm *approvalStateMachine) notify(ctx context.Context, actor ActorRef, account *Account, result *TransitionResult) {
	if sm.notifier == nil {
		return
	}

	switch account.Status {
	case StatusApproved:
		result.NotificationAttempted = true
		result.NotificationSent = sm.notifier.NotifyApproval(ctx, account, actor)
	case StatusRejected:
		result.NotificationAttempted = true
		result.NotificationSent = sm.notifier.NotifyRejection(ctx, account, account.RejectionReason, actor)
	default:
		return
	}

	if result.NotificationSent {
		return
	}

	sm.logger.Warn("decision notification not delivered",
		"account_id", account.ID,
		"email", account.Email,
		"status", account.Status,
	)

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType: ActivityEventNotificationFail,
		Actor:     actor,
		AccountID: account.ID.String(),
		ToStatus:  account.Status,
		Metadata:  map[string]any{"email": account.Email},
	})
}

func (sm *approvalStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *approvalStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *approvalStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
