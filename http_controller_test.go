package accounts_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/goliatone/go-router"
	accounts "github.com/lungvision/go-accounts"
	"github.com/lungvision/go-accounts/middleware/jwtware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// bodyMock overrides Bind from our base MockContext with a JSON body.
type bodyMock struct {
	*router.MockContext
	body any
}

func (m *bodyMock) Bind(out any) error {
	raw, err := json.Marshal(m.body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func newBodyMock(body any) *bodyMock {
	ctx := &bodyMock{MockContext: router.NewMockContext(), body: body}
	ctx.On("Context").Return(context.Background())
	return ctx
}

// expectJSON captures the payload of the JSON response with the given status.
func expectJSON[T any](ctx *router.MockContext, status int, out *T) {
	ctx.On("JSON", status, mock.Anything).Run(func(args mock.Arguments) {
		if v, ok := args.Get(1).(T); ok {
			*out = v
		}
	}).Return(nil)
}

func newAccountController(t *testing.T) (*gateFixture, *accounts.AccountController) {
	t.Helper()
	f := newGateFixture(t)
	registration := accounts.NewRegistrationHandler(f.repo,
		accounts.WithRegistrationPasswords(fastPasswords),
		accounts.WithRegistrationClock(fixedClock),
	)
	return f, accounts.NewAccountController(
		accounts.WithControllerRegistration(registration),
		accounts.WithControllerAuthenticator(f.auther),
	)
}

func TestNewAccountControllerRequiresDependencies(t *testing.T) {
	assert.Panics(t, func() { accounts.NewAccountController() })
}

func TestRegisterDoctorEndpoint(t *testing.T) {
	_, controller := newAccountController(t)

	ctx := newBodyMock(map[string]any{
		"email":                  "doc@example.com",
		"full_name":              "Doc Ock",
		"password":               testPassword,
		"confirm_password":       testPassword,
		"terms_accepted":         true,
		"medical_license_number": "MD-7",
		"specialization":         "radiologist",
		"hospital_affiliation":   "Oscorp Medical",
	})

	var payload map[string]any
	expectJSON(ctx.MockContext, http.StatusCreated, &payload)

	require.NoError(t, controller.RegisterDoctor(ctx))
	assert.Equal(t, accounts.DetailDoctorCreated, payload["detail"])

	user, ok := payload["user"].(accounts.Profile)
	require.True(t, ok)
	assert.Equal(t, "doc@example.com", user["email"])
	assert.NotContains(t, user, "access")
	assert.NotContains(t, payload, "access")
}

func TestRegisterResearcherEndpointValidation(t *testing.T) {
	_, controller := newAccountController(t)

	ctx := newBodyMock(map[string]any{
		"email":            "res@example.com",
		"full_name":        "Res Earcher",
		"password":         testPassword,
		"confirm_password": "different",
	})

	var payload accounts.ErrorResponse
	expectJSON(ctx.MockContext, http.StatusBadRequest, &payload)

	require.NoError(t, controller.RegisterResearcher(ctx))
	assert.Equal(t, accounts.TextCodeValidation, payload.Code)
	assert.True(t, payload.Errors.Has("confirm_password"))
	assert.True(t, payload.Errors.Has("terms_accepted"))
	assert.True(t, payload.Errors.Has("research_institution"))
}

func TestRegisterEndpoint(t *testing.T) {
	_, controller := newAccountController(t)

	ctx := newBodyMock(map[string]any{
		"email":     "user@example.com",
		"full_name": "Plain User",
		"password":  testPassword,
	})

	var payload map[string]any
	expectJSON(ctx.MockContext, http.StatusCreated, &payload)

	require.NoError(t, controller.Register(ctx))
	assert.Equal(t, accounts.DetailAccountCreated, payload["detail"])
}

func TestLoginEndpoint(t *testing.T) {
	f, controller := newAccountController(t)
	seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusApproved)

	ctx := newBodyMock(accounts.LoginRequest{Email: "doc@example.com", Password: testPassword})

	var payload map[string]any
	expectJSON(ctx.MockContext, http.StatusOK, &payload)

	require.NoError(t, controller.Login(ctx))
	assert.NotEmpty(t, payload["access"])
	assert.NotEmpty(t, payload["refresh"])

	user, ok := payload["user"].(accounts.Profile)
	require.True(t, ok)
	assert.Equal(t, "MD-1001", user["medical_license_number"])
}

func TestLoginEndpointPendingAccount(t *testing.T) {
	f, controller := newAccountController(t)
	seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusPending)

	ctx := newBodyMock(accounts.LoginRequest{Email: "doc@example.com", Password: testPassword})

	var payload accounts.ErrorResponse
	expectJSON(ctx.MockContext, http.StatusBadRequest, &payload)

	require.NoError(t, controller.Login(ctx))
	assert.Equal(t, accounts.TextCodeAccountPending, payload.Code)
}

func TestLoginEndpointMissingFields(t *testing.T) {
	_, controller := newAccountController(t)

	ctx := newBodyMock(accounts.LoginRequest{})

	var payload accounts.ErrorResponse
	expectJSON(ctx.MockContext, http.StatusBadRequest, &payload)

	require.NoError(t, controller.Login(ctx))
	assert.Equal(t, []string{"email", "password"}, payload.Errors.Fields())
}

func TestRefreshAndLogoutEndpoints(t *testing.T) {
	f, controller := newAccountController(t)
	seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusApproved)

	login, err := f.auther.Login(context.Background(), "doc@example.com", testPassword)
	require.NoError(t, err)

	ctx := newBodyMock(accounts.RefreshRequest{Refresh: login.Tokens.Refresh})
	var pair accounts.TokenPair
	expectJSON(ctx.MockContext, http.StatusOK, &pair)

	require.NoError(t, controller.Refresh(ctx))
	require.NotEmpty(t, pair.Refresh)

	ctx = newBodyMock(accounts.RefreshRequest{Refresh: pair.Refresh})
	ctx.On("NoContent", http.StatusResetContent).Return(nil)
	require.NoError(t, controller.Logout(ctx))
	ctx.AssertExpectations(t)

	ctx = newBodyMock(accounts.RefreshRequest{Refresh: pair.Refresh})
	var body accounts.ErrorResponse
	expectJSON(ctx.MockContext, http.StatusBadRequest, &body)
	require.NoError(t, controller.Logout(ctx))
	assert.Equal(t, accounts.TextCodeTokenRevoked, body.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	f, controller := newAccountController(t)
	seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusApproved)

	login, err := f.auther.Login(context.Background(), "doc@example.com", testPassword)
	require.NoError(t, err)

	ctx := newBodyMock(accounts.VerifyRequest{Token: login.Tokens.Access})
	ctx.On("JSON", http.StatusOK, map[string]any{}).Return(nil)
	require.NoError(t, controller.Verify(ctx))
	ctx.AssertExpectations(t)

	ctx = newBodyMock(accounts.VerifyRequest{Token: "garbage"})
	var body accounts.ErrorResponse
	expectJSON(ctx.MockContext, http.StatusUnauthorized, &body)
	require.NoError(t, controller.Verify(ctx))
	assert.Equal(t, accounts.TextCodeTokenMalformed, body.Code)
}

func TestMeEndpoint(t *testing.T) {
	f, controller := newAccountController(t)
	account := seedAccount(t, f.repo, "res@example.com", accounts.RoleResearcher, accounts.StatusApproved)

	pair, err := f.tokens.Issue(account)
	require.NoError(t, err)
	claims, err := f.tokens.ValidateType(pair.Access, accounts.TokenTypeAccess)
	require.NoError(t, err)

	ctx := router.NewMockContext()
	ctx.LocalsMock["user"] = claims
	ctx.On("Context").Return(context.Background())

	var profile accounts.Profile
	expectJSON(ctx, http.StatusOK, &profile)

	require.NoError(t, controller.Me(ctx))
	assert.Equal(t, account.ID, profile["id"])
	assert.Equal(t, "Lung Institute", profile["research_institution"])
	assert.NotContains(t, profile, "medical_license_number")
}

func TestMeEndpointWithoutClaims(t *testing.T) {
	_, controller := newAccountController(t)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())

	var body accounts.ErrorResponse
	expectJSON(ctx, http.StatusUnauthorized, &body)

	require.NoError(t, controller.Me(ctx))
	assert.Equal(t, "Authentication credentials were not provided.", body.Detail)
}

func TestProtectedRouteRejectsRefreshTokens(t *testing.T) {
	f := newGateFixture(t)
	account := seedAccount(t, f.repo, "doc@example.com", accounts.RoleDoctor, accounts.StatusApproved)
	pair, err := f.tokens.Issue(account)
	require.NoError(t, err)

	var got error
	handler := accounts.ProtectedRoute(f.tokens, "", func(ctx router.Context, err error) error {
		got = err
		return err
	})(func(router.Context) error { return nil })

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer " + pair.Refresh)

	require.Error(t, handler(ctx))
	assert.True(t, errors.Is(got, accounts.ErrTokenMalformed))
	assert.False(t, ctx.NextCalled)
}

func TestProtectedRouteMissingHeader(t *testing.T) {
	f := newGateFixture(t)
	handler := accounts.ProtectedRoute(f.tokens, accounts.RoleAdmin, nil)(func(router.Context) error { return nil })

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("")

	var body accounts.ErrorResponse
	expectJSON(ctx, http.StatusUnauthorized, &body)

	require.NoError(t, handler(ctx))
	assert.Equal(t, accounts.TextCodeTokenMalformed, body.Code)
}

func TestAccessTokenValidator(t *testing.T) {
	ts := accounts.NewTokenService(tokenConfig{}, accounts.WithTokenClock(fixedClock))
	pair, err := ts.Issue(testAccount())
	require.NoError(t, err)

	validator := accounts.AccessTokenValidator(ts)

	claims, err := validator.Validate(pair.Access)
	require.NoError(t, err)
	assert.Equal(t, "doctor", claims.Role())

	_, err = validator.Validate(pair.Refresh)
	assert.Error(t, err)
}

func TestClaimsContextHelpers(t *testing.T) {
	claims := &accounts.JWTClaims{UID: "abc", UserRole: "doctor"}

	ctx := accounts.ContextEnricherAdapter(context.Background(), claims)
	got, ok := accounts.GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc", got.UserID())

	var foreign jwtware.AuthClaims = foreignClaims{}
	plain := accounts.ContextEnricherAdapter(context.Background(), foreign)
	_, ok = accounts.GetClaims(plain)
	assert.False(t, ok)

	account := &accounts.Account{Email: "ctx@example.com"}
	stored, ok := accounts.FromContext(accounts.WithContext(context.Background(), account))
	require.True(t, ok)
	assert.Same(t, account, stored)

	rctx := router.NewMockContext()
	rctx.LocalsMock["user"] = claims
	fromRouter, err := accounts.ClaimsFromContext(rctx, "")
	require.NoError(t, err)
	assert.Equal(t, "abc", fromRouter.UserID())

	_, err = accounts.ClaimsFromContext(router.NewMockContext(), "user")
	assert.True(t, errors.Is(err, jwtware.ErrJWTMissingOrMalformed))
}

type foreignClaims struct{}

func (foreignClaims) Subject() string       { return "" }
func (foreignClaims) UserID() string        { return "" }
func (foreignClaims) Role() string          { return "" }
func (foreignClaims) HasRole(string) bool   { return false }
func (foreignClaims) IsAtLeast(string) bool { return false }
