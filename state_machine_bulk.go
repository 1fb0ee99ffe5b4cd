package accounts

import (
	"context"
	"fmt"
)

// BulkResult summarizes a bulk transition.
type BulkResult struct {
	// Eligible counts accounts whose current status allows the transition.
	Eligible  int
	Succeeded int
	Failed    int
	Skipped   int
	// NotificationSent counts delivered notifications.
	NotificationSent int
	// NotificationFailures holds "email (full name)" labels.
	NotificationFailures []string
	Errors               map[string]error
}

func (r *BulkResult) addError(account *Account, err error) {
	if r.Errors == nil {
		r.Errors = map[string]error{}
	}
	r.Errors[account.ID.String()] = err
	r.Failed++
}

// BulkApprove approves every pending or rejected account.
func (sm *approvalStateMachine) BulkApprove(ctx context.Context, actor ActorRef, accounts []*Account, opts ...TransitionOption) BulkResult {
	return sm.bulk(ctx, accounts, []AccountStatus{StatusPending, StatusRejected},
		func(account *Account) (*TransitionResult, error) {
			return sm.Approve(ctx, actor, account, opts...)
		})
}

// BulkReject rejects every pending or approved account with the same reason.
func (sm *approvalStateMachine) BulkReject(ctx context.Context, actor ActorRef, accounts []*Account, reason string, opts ...TransitionOption) BulkResult {
	return sm.bulk(ctx, accounts, []AccountStatus{StatusPending, StatusApproved},
		func(account *Account) (*TransitionResult, error) {
			return sm.Reject(ctx, actor, account, reason, opts...)
		})
}

// BulkResetToPending moves every approved or rejected account back to pending.
func (sm *approvalStateMachine) BulkResetToPending(ctx context.Context, actor ActorRef, accounts []*Account, opts ...TransitionOption) BulkResult {
	return sm.bulk(ctx, accounts, []AccountStatus{StatusApproved, StatusRejected},
		func(account *Account) (*TransitionResult, error) {
			return sm.ResetToPending(ctx, actor, account, opts...)
		})
}

func (sm *approvalStateMachine) bulk(ctx context.Context, accounts []*Account, from []AccountStatus, apply func(*Account) (*TransitionResult, error)) BulkResult {
	result := BulkResult{}

	for _, account := range accounts {
		if account == nil {
			continue
		}
		if !statusIn(sm.CurrentStatus(account), from) {
			result.Skipped++
			continue
		}
		result.Eligible++

		if err := ctx.Err(); err != nil {
			result.addError(account, err)
			continue
		}

		res, err := apply(account)
		if err != nil {
			sm.logger.Error("bulk transition failed", "account_id", account.ID, "error", err)
			result.addError(account, err)
			continue
		}
		result.Succeeded++

		switch {
		case res.NotificationSent:
			result.NotificationSent++
		case res.NotificationFailed():
			result.NotificationFailures = append(result.NotificationFailures,
				fmt.Sprintf("%s (%s)", account.Email, account.FullName))
		}
	}

	return result
}

func statusIn(status AccountStatus, set []AccountStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
