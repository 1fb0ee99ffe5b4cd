package accounts_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	accounts "github.com/lungvision/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type consoleFixture struct {
	repo    accounts.RepositoryManager
	console *accounts.AdminConsole
	box     *mailbox
	admin   *accounts.Account
	actor   accounts.ActorRef
}

func newConsoleFixture(t *testing.T) *consoleFixture {
	t.Helper()
	_, repo := setupRepo(t)

	box := &mailbox{fail: map[string]bool{}}
	dispatcher := accounts.NewNotificationDispatcher(box, accounts.WithDispatcherClock(fixedClock))
	machine := accounts.NewApprovalStateMachine(repo.Accounts(),
		accounts.WithStateMachineClock(fixedClock),
		accounts.WithStateMachineNotifier(dispatcher),
	)

	admin := seedAccount(t, repo, "admin@example.com", accounts.RoleAdmin, accounts.StatusApproved)

	return &consoleFixture{
		repo:    repo,
		box:     box,
		admin:   admin,
		actor:   accounts.AccountActor(admin),
		console: accounts.NewAdminConsole(repo, machine, accounts.WithConsoleDispatcher(dispatcher)),
	}
}

func (f *consoleFixture) status(t *testing.T, id uuid.UUID) accounts.AccountStatus {
	t.Helper()
	stored, err := f.repo.Accounts().GetByID(context.Background(), id)
	require.NoError(t, err)
	return stored.Status
}

func TestConsoleApproveSelected(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()

	a := seedAccount(t, f.repo, "a@example.com", accounts.RoleDoctor, accounts.StatusPending)
	b := seedAccount(t, f.repo, "b@example.com", accounts.RoleResearcher, accounts.StatusRejected)
	c := seedAccount(t, f.repo, "c@example.com", accounts.RoleDoctor, accounts.StatusApproved)

	report, err := f.console.RunAction(ctx, f.actor, accounts.ActionApprove, []uuid.UUID{a.ID, b.ID, c.ID})
	require.NoError(t, err)

	assert.Equal(t, accounts.LevelSuccess, report.Level)
	assert.Equal(t, "2 user(s) have been approved. 2 approval email(s) sent successfully.", report.Message)
	assert.Equal(t, 1, report.Result.Skipped)
	assert.Len(t, f.box.sent, 2)

	assert.Equal(t, accounts.StatusApproved, f.status(t, a.ID))
	assert.Equal(t, accounts.StatusApproved, f.status(t, b.ID))
}

func TestConsoleApproveReportsNotificationFailures(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()

	a := seedAccount(t, f.repo, "a@example.com", accounts.RoleDoctor, accounts.StatusPending)
	b := seedAccount(t, f.repo, "b@example.com", accounts.RoleDoctor, accounts.StatusPending)
	f.box.fail["b@example.com"] = true

	report, err := f.console.ApproveSelected(ctx, f.actor, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)

	assert.Equal(t, accounts.LevelWarning, report.Level)
	assert.Equal(t,
		"2 user(s) have been approved. 1 approval email(s) sent successfully. Failed to send email to: b@example.com (Test doctor)",
		report.Message,
	)
	assert.Equal(t, accounts.StatusApproved, f.status(t, b.ID), "decision survives the failed email")
}

func TestConsoleRejectSelected(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()

	a := seedAccount(t, f.repo, "a@example.com", accounts.RoleDoctor, accounts.StatusPending)
	b := seedAccount(t, f.repo, "b@example.com", accounts.RoleDoctor, accounts.StatusApproved)

	report, err := f.console.RunAction(ctx, f.actor, accounts.ActionReject, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, "2 user(s) have been rejected. 2 rejection email(s) sent successfully.", report.Message)

	stored, err := f.repo.Accounts().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, accounts.StatusRejected, stored.Status)
	assert.Equal(t, accounts.BulkRejectionReason, stored.RejectionReason)

	for _, n := range f.box.sent {
		assert.Equal(t, accounts.BulkRejectionReason, n.Reason)
	}
}

func TestConsoleResetSelected(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()

	a := seedAccount(t, f.repo, "a@example.com", accounts.RoleDoctor, accounts.StatusApproved)
	b := seedAccount(t, f.repo, "b@example.com", accounts.RoleDoctor, accounts.StatusPending)

	report, err := f.console.RunAction(ctx, f.actor, accounts.ActionReset, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t,
		"1 user(s) marked as pending approval. Previous approval/rejection details have been cleared.",
		report.Message,
	)
	assert.Empty(t, f.box.sent)
	assert.Equal(t, accounts.StatusPending, f.status(t, a.ID))
}

func TestConsoleSendTestNotification(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()

	a := seedAccount(t, f.repo, "a@example.com", accounts.RoleDoctor, accounts.StatusPending)
	b := seedAccount(t, f.repo, "b@example.com", accounts.RoleResearcher, accounts.StatusRejected)
	f.box.fail["b@example.com"] = true

	report, err := f.console.RunAction(ctx, f.actor, accounts.ActionTestEmail, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)

	assert.Equal(t, accounts.LevelWarning, report.Level)
	assert.Equal(t, "Test emails sent successfully to 1 user(s). Failed to send test emails to 1 user(s).", report.Message)
	require.NotNil(t, report.Delivery)
	assert.Equal(t, []string{"b@example.com"}, report.Delivery.FailedEmails)

	assert.Equal(t, accounts.StatusPending, f.status(t, a.ID))
	assert.Equal(t, accounts.StatusRejected, f.status(t, b.ID))
}

func TestConsoleSendTestRequiresDispatcher(t *testing.T) {
	_, repo := setupRepo(t)
	console := accounts.NewAdminConsole(repo, accounts.NewApprovalStateMachine(repo.Accounts()))

	_, err := console.SendTestNotification(context.Background(), accounts.SystemActor, []uuid.UUID{uuid.New()})
	assert.Error(t, err)
}

func TestConsoleRunActionValidation(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()

	_, err := f.console.RunAction(ctx, f.actor, accounts.ActionApprove, nil)
	var validationErr *accounts.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.True(t, validationErr.Fields.Has("ids"))

	_, err = f.console.RunAction(ctx, f.actor, "delete", []uuid.UUID{uuid.New()})
	require.True(t, errors.As(err, &validationErr))
	assert.True(t, validationErr.Fields.Has("action"))
}

func TestFailureSummary(t *testing.T) {
	assert.Empty(t, accounts.FailureSummary(nil))
	assert.Equal(t, "Failed to send email to: a, b", accounts.FailureSummary([]string{"a", "b"}))

	labels := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		labels = append(labels, fmt.Sprintf("user%d@example.com (User %d)", i, i))
	}
	assert.Equal(t,
		"Failed to send email to: user1@example.com (User 1), user2@example.com (User 2), user3@example.com (User 3) and 2 others.",
		accounts.FailureSummary(labels),
	)
}

func TestConsoleListAndGet(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()

	doctor := seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)
	seedAccount(t, f.repo, "res@example.com", accounts.RoleResearcher, accounts.StatusPending)

	page, err := f.console.List(ctx, accounts.AccountFilter{Status: accounts.StatusPending, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, 500, page.Limit)
	assert.Len(t, page.Results, 2)

	_, err = f.console.ApproveSelected(ctx, f.actor, []uuid.UUID{doctor.ID})
	require.NoError(t, err)

	detail, err := f.console.Get(ctx, doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", detail.ReviewedByEmail)
	assert.Equal(t, "Test admin", detail.ReviewedByName)

	_, err = f.console.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, accounts.ErrAccountNotFound))
}

func TestConsoleUpdateFieldsAndStatus(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()
	doctor := seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)

	name := "  Renamed Doctor "
	hospital := "St. Elsewhere"
	status := accounts.StatusRejected
	reason := "License mismatch"

	detail, err := f.console.Update(ctx, f.actor, doctor.ID, accounts.AccountUpdate{
		FullName:            &name,
		HospitalAffiliation: &hospital,
		Status:              &status,
		RejectionReason:     &reason,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed Doctor", detail.FullName)
	assert.Equal(t, accounts.StatusRejected, detail.Status)
	assert.Equal(t, "admin@example.com", detail.ReviewedByEmail)

	stored, err := f.repo.Accounts().GetByID(ctx, doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, "St. Elsewhere", stored.HospitalAffiliation)
	assert.Equal(t, "License mismatch", stored.RejectionReason)

	require.Len(t, f.box.sent, 1)
	assert.Equal(t, "License mismatch", f.box.sent[0].Reason)
}

func TestConsoleUpdateReasonOnRejectedAccountIsSilent(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()
	doctor := seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusRejected)

	reason := "Clarified reason"
	_, err := f.console.Update(ctx, f.actor, doctor.ID, accounts.AccountUpdate{RejectionReason: &reason})
	require.NoError(t, err)

	stored, err := f.repo.Accounts().GetByID(ctx, doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, "Clarified reason", stored.RejectionReason)
	assert.Empty(t, f.box.sent)
}

func TestConsoleUpdateWithoutNotify(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()
	doctor := seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)

	status := accounts.StatusApproved
	notify := false
	_, err := f.console.Update(ctx, f.actor, doctor.ID, accounts.AccountUpdate{Status: &status, Notify: &notify})
	require.NoError(t, err)

	assert.Equal(t, accounts.StatusApproved, f.status(t, doctor.ID))
	assert.Empty(t, f.box.sent)
}

// brokenMachine fails every rejection after the console has written fields.
type brokenMachine struct {
	accounts.ApprovalStateMachine
}

func (brokenMachine) Reject(context.Context, accounts.ActorRef, *accounts.Account, string, ...accounts.TransitionOption) (*accounts.TransitionResult, error) {
	return nil, errors.New("decision store down")
}

func TestConsoleUpdateRollsBackFieldsWhenTransitionFails(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()
	doctor := seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)

	machine := brokenMachine{accounts.NewApprovalStateMachine(f.repo.Accounts())}
	console := accounts.NewAdminConsole(f.repo, machine)

	name := "Half Applied"
	status := accounts.StatusRejected
	reason := "License mismatch"
	_, err := console.Update(ctx, f.actor, doctor.ID, accounts.AccountUpdate{
		FullName:        &name,
		Status:          &status,
		RejectionReason: &reason,
	})
	require.Error(t, err)

	stored, err := f.repo.Accounts().GetByID(ctx, doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test doctor", stored.FullName)
	assert.Equal(t, accounts.StatusPending, stored.Status)
	assert.Empty(t, f.box.sent)
}

func TestTransitionInCallerTxWaitsForComplete(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()
	doctor := seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)

	notifier := &stubNotifier{fail: map[string]bool{}}
	sm := accounts.NewApprovalStateMachine(f.repo.Accounts(),
		accounts.WithStateMachineClock(fixedClock),
		accounts.WithStateMachineNotifier(notifier),
	)

	var result *accounts.TransitionResult
	err := f.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = sm.Approve(ctx, f.actor, doctor, accounts.WithTransitionTx(tx))
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, notifier.approvals, "nothing is sent before Complete")
	assert.Equal(t, accounts.StatusApproved, f.status(t, doctor.ID))

	result.Complete(ctx)
	assert.Equal(t, []string{"doc@example.com"}, notifier.approvals)
	assert.True(t, result.NotificationSent)

	result.Complete(ctx)
	assert.Len(t, notifier.approvals, 1, "Complete runs once")
}

func TestConsoleUpdateValidation(t *testing.T) {
	f := newConsoleFixture(t)
	doctor := seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)

	status := accounts.AccountStatus("archived")
	orcid := "bad"
	_, err := f.console.Update(context.Background(), f.actor, doctor.ID, accounts.AccountUpdate{
		Status:  &status,
		OrcidID: &orcid,
	})

	var validationErr *accounts.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.True(t, validationErr.Fields.Has("account_status"))
	assert.True(t, validationErr.Fields.Has("orcid_id"))
	assert.Equal(t, accounts.StatusPending, f.status(t, doctor.ID))
}
