package accounts_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-router"
	accounts "github.com/lungvision/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adminFixture struct {
	gate       *gateFixture
	box        *mailbox
	controller *accounts.AdminController
	admin      *accounts.Account
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gate := newGateFixture(t)

	box := &mailbox{}
	dispatcher := accounts.NewNotificationDispatcher(box)
	machine := accounts.NewApprovalStateMachine(gate.repo.Accounts(),
		accounts.WithStateMachineClock(fixedClock),
		accounts.WithStateMachineNotifier(dispatcher),
	)
	console := accounts.NewAdminConsole(gate.repo, machine, accounts.WithConsoleDispatcher(dispatcher))

	return &adminFixture{
		gate:       gate,
		box:        box,
		admin:      seedAccount(t, gate.repo, "admin@example.com", accounts.RoleAdmin, accounts.StatusApproved),
		controller: accounts.NewAdminController(console, gate.auther),
	}
}

func (f *adminFixture) claimsFor(t *testing.T, account *accounts.Account) accounts.AuthClaims {
	t.Helper()
	pair, err := f.gate.tokens.Issue(account)
	require.NoError(t, err)
	claims, err := f.gate.tokens.ValidateType(pair.Access, accounts.TokenTypeAccess)
	require.NoError(t, err)
	return claims
}

func TestAdminListRequiresStaff(t *testing.T) {
	f := newAdminFixture(t)
	doctor := seedAccount(t, f.gate.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusApproved)

	ctx := router.NewMockContext()
	ctx.LocalsMock["user"] = f.claimsFor(t, doctor)
	ctx.On("Context").Return(context.Background())

	var body accounts.ErrorResponse
	expectJSON(ctx, http.StatusForbidden, &body)

	require.NoError(t, f.controller.List(ctx))
	assert.Equal(t, accounts.TextCodeForbidden, body.Code)
}

func TestAdminListFiltersByQuery(t *testing.T) {
	f := newAdminFixture(t)
	seedAccount(t, f.gate.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)
	seedAccount(t, f.gate.repo, "res@example.com", accounts.RoleResearcher, accounts.StatusPending)

	ctx := router.NewMockContext()
	ctx.LocalsMock["user"] = f.claimsFor(t, f.admin)
	ctx.QueriesM["role"] = "doctor"
	ctx.QueriesM["account_status"] = "pending"
	ctx.On("Context").Return(context.Background())

	var page *accounts.AccountPage
	expectJSON(ctx, http.StatusOK, &page)

	require.NoError(t, f.controller.List(ctx))
	require.NotNil(t, page)
	assert.Equal(t, 1, page.Count)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "doc@example.com", page.Results[0].Email)
}

func TestAdminListRejectsBadFilter(t *testing.T) {
	f := newAdminFixture(t)

	ctx := router.NewMockContext()
	ctx.LocalsMock["user"] = f.claimsFor(t, f.admin)
	ctx.QueriesM["account_status"] = "archived"
	ctx.On("Context").Return(context.Background())

	var body accounts.ErrorResponse
	expectJSON(ctx, http.StatusBadRequest, &body)

	require.NoError(t, f.controller.List(ctx))
	assert.True(t, body.Errors.Has("account_status"))
}

func TestAdminDetail(t *testing.T) {
	f := newAdminFixture(t)
	doctor := seedAccount(t, f.gate.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)

	ctx := router.NewMockContext()
	ctx.LocalsMock["user"] = f.claimsFor(t, f.admin)
	ctx.ParamsM["id"] = doctor.ID.String()
	ctx.On("Context").Return(context.Background())

	var detail *accounts.AccountDetail
	expectJSON(ctx, http.StatusOK, &detail)

	require.NoError(t, f.controller.Detail(ctx))
	require.NotNil(t, detail)
	assert.Equal(t, doctor.ID, detail.ID)

	ctx = router.NewMockContext()
	ctx.LocalsMock["user"] = f.claimsFor(t, f.admin)
	ctx.ParamsM["id"] = "not-a-uuid"
	ctx.On("Context").Return(context.Background())

	var body accounts.ErrorResponse
	expectJSON(ctx, http.StatusBadRequest, &body)
	require.NoError(t, f.controller.Detail(ctx))
	assert.True(t, body.Errors.Has("id"))
}

func TestAdminAction(t *testing.T) {
	f := newAdminFixture(t)
	doctor := seedAccount(t, f.gate.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)

	ctx := newBodyMock(accounts.ActionRequest{IDs: []string{doctor.ID.String()}})
	ctx.LocalsMock["user"] = f.claimsFor(t, f.admin)
	ctx.ParamsM["action"] = accounts.ActionApprove

	var report *accounts.ActionReport
	expectJSON(ctx.MockContext, http.StatusOK, &report)

	require.NoError(t, f.controller.Action(ctx))
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Result.Succeeded)
	assert.Len(t, f.box.sent, 1)

	stored, err := f.gate.repo.Accounts().GetByID(context.Background(), doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, accounts.StatusApproved, stored.Status)
	require.NotNil(t, stored.ReviewedBy)
	assert.Equal(t, f.admin.ID, *stored.ReviewedBy)
}

func TestAdminUpdate(t *testing.T) {
	f := newAdminFixture(t)
	doctor := seedAccount(t, f.gate.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)

	ctx := newBodyMock(map[string]any{
		"account_status":   "rejected",
		"rejection_reason": "Unreadable license scan",
		"notify":           false,
	})
	ctx.LocalsMock["user"] = f.claimsFor(t, f.admin)
	ctx.ParamsM["id"] = doctor.ID.String()

	var detail *accounts.AccountDetail
	expectJSON(ctx.MockContext, http.StatusOK, &detail)

	require.NoError(t, f.controller.Update(ctx))
	require.NotNil(t, detail)
	assert.Equal(t, accounts.StatusRejected, detail.Status)
	assert.Equal(t, "Unreadable license scan", detail.RejectionReason)
	assert.Empty(t, f.box.sent)
}

func TestParseAccountFilter(t *testing.T) {
	query := map[string]string{
		"role":              "researcher",
		"account_status":    "approved",
		"search":            "  lung ",
		"ordering":          "-reviewed_at",
		"limit":             "25",
		"offset":            "50",
		"date_joined_after": "2024-01-01",
		"reviewed_before":   "2024-06-01T10:00:00Z",
	}

	filter, err := accounts.ParseAccountFilter(func(key string) string { return query[key] })
	require.NoError(t, err)
	assert.Equal(t, accounts.RoleResearcher, filter.Role)
	assert.Equal(t, accounts.StatusApproved, filter.Status)
	assert.Equal(t, "lung", filter.Search)
	assert.Equal(t, "-reviewed_at", filter.Ordering)
	assert.Equal(t, 25, filter.Limit)
	assert.Equal(t, 50, filter.Offset)
	require.NotNil(t, filter.JoinedAfter)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *filter.JoinedAfter)
	require.NotNil(t, filter.ReviewedBefore)
	assert.Nil(t, filter.JoinedBefore)

	bad := map[string]string{
		"role":           "janitor",
		"limit":          "-1",
		"reviewed_after": "yesterday",
		"account_status": "pending",
	}
	_, err = accounts.ParseAccountFilter(func(key string) string { return bad[key] })
	require.Error(t, err)

	status, body := accounts.ErrorStatus(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, []string{"limit", "reviewed_after", "role"}, body.Errors.Fields())
}
