package accounts

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/lungvision/go-accounts/middleware/jwtware"
)

// RouteRegistrar captures the router methods used by the controllers.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Patch(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// Predictor forwards prediction requests to the inference service
type Predictor interface {
	Predict(ctx context.Context, contentType string, body []byte) (int, []byte, error)
}

// AccountControllerRoutes holds the public route paths
type AccountControllerRoutes struct {
	Register           string
	RegisterDoctor     string
	RegisterResearcher string
	Login              []string
	Refresh            string
	Verify             string
	Logout             string
	Me                 string
	Predict            string
}

// AccountController serves registration, login and profile endpoints
type AccountController struct {
	Debug        bool
	Logger       Logger
	Routes       *AccountControllerRoutes
	Registration *RegistrationHandler
	Auther       Authenticator
	Predictor    Predictor
	ContextKey   string
	ErrorHandler router.ErrorHandler
}

// AccountControllerOption configures the controller
type AccountControllerOption func(*AccountController) *AccountController

func WithControllerLogger(logger Logger) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerDebug(debug bool) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Debug = debug
		return c
	}
}

func WithControllerRegistration(h *RegistrationHandler) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Registration = h
		return c
	}
}

func WithControllerAuthenticator(a Authenticator) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Auther = a
		return c
	}
}

func WithControllerPredictor(p Predictor) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Predictor = p
		return c
	}
}

// NewAccountController builds the controller. Registration and Auther are required.
func NewAccountController(opts ...AccountControllerOption) *AccountController {
	c := &AccountController{
		Logger:       defLogger{},
		ContextKey:   "user",
		ErrorHandler: WriteError,
		Routes: &AccountControllerRoutes{
			Register:           "/register/",
			RegisterDoctor:     "/auth/doctor/register/",
			RegisterResearcher: "/auth/researcher/register/",
			Login:              []string{"/login/", "/auth/login/"},
			Refresh:            "/token/refresh/",
			Verify:             "/token/verify/",
			Logout:             "/token/logout/",
			Me:                 "/user/me/",
			Predict:            "/predict/",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Registration == nil {
		panic("Missing RegistrationHandler in account controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in account controller...")
	}

	return c
}

// RegisterAccountRoutes mounts the public and authenticated account routes.
func RegisterAccountRoutes(app RouteRegistrar, protected router.MiddlewareFunc, opts ...AccountControllerOption) *AccountController {
	c := NewAccountController(opts...)

	app.Post(c.Routes.Register, c.Register)
	app.Post(c.Routes.RegisterDoctor, c.RegisterDoctor)
	app.Post(c.Routes.RegisterResearcher, c.RegisterResearcher)
	for _, path := range c.Routes.Login {
		app.Post(path, c.Login)
	}
	app.Post(c.Routes.Refresh, c.Refresh)
	app.Post(c.Routes.Verify, c.Verify)
	app.Post(c.Routes.Logout, c.Logout)
	app.Get(c.Routes.Me, c.Me, protected)
	if c.Predictor != nil {
		app.Post(c.Routes.Predict, c.Predict, protected)
	}

	return c
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// RefreshRequest payload, shared by refresh and logout
type RefreshRequest struct {
	Refresh string `form:"refresh" json:"refresh"`
}

// VerifyRequest payload
type VerifyRequest struct {
	Token string `form:"token" json:"token"`
}

func (a *AccountController) Register(ctx router.Context) error {
	payload := new(RegisterAccountMessage)
	if err := ctx.Bind(payload); err != nil {
		return a.bindError(ctx, err)
	}

	if _, err := a.register(ctx, *payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"detail": DetailAccountCreated,
	})
}

func (a *AccountController) RegisterDoctor(ctx router.Context) error {
	payload := new(RegisterDoctorMessage)
	if err := ctx.Bind(payload); err != nil {
		return a.bindError(ctx, err)
	}

	result, err := a.register(ctx, *payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"detail": result.Detail,
		"user":   RegistrationSummary(result.Account),
	})
}

func (a *AccountController) RegisterResearcher(ctx router.Context) error {
	payload := new(RegisterResearcherMessage)
	if err := ctx.Bind(payload); err != nil {
		return a.bindError(ctx, err)
	}

	result, err := a.register(ctx, *payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"detail": result.Detail,
		"user":   RegistrationSummary(result.Account),
	})
}

func (a *AccountController) register(ctx router.Context, msg RegistrationMessage) (*RegistrationResult, error) {
	if a.Debug {
		fmt.Println("======= REGISTER ======")
		fmt.Println(msg.Type(), msg.GetEmail())
		fmt.Println("=======================")
	}

	result, err := a.Registration.Execute(ctx.Context(), msg)
	if err != nil {
		a.Logger.Warn("registration failed", "type", msg.Type(), "error", err)
		return nil, err
	}
	return result, nil
}

func (a *AccountController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.bindError(ctx, err)
	}

	fields := FieldErrors{}
	if strings.TrimSpace(payload.Email) == "" {
		fields.Add("email", "This field is required.")
	}
	if payload.Password == "" {
		fields.Add("password", "This field is required.")
	}
	if len(fields) > 0 {
		return a.ErrorHandler(ctx, NewValidationError("", fields))
	}

	result, err := a.Auther.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(result.Profile))
		fmt.Println("====================")
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"access":  result.Tokens.Access,
		"refresh": result.Tokens.Refresh,
		"user":    result.Profile,
	})
}

func (a *AccountController) Refresh(ctx router.Context) error {
	payload := new(RefreshRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.bindError(ctx, err)
	}

	pair, err := a.Auther.Refresh(ctx.Context(), payload.Refresh)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, pair)
}

func (a *AccountController) Verify(ctx router.Context) error {
	payload := new(VerifyRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.bindError(ctx, err)
	}

	if _, err := a.Auther.Verify(ctx.Context(), payload.Token); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{})
}

func (a *AccountController) Logout(ctx router.Context) error {
	payload := new(RefreshRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.bindError(ctx, err)
	}

	if err := a.Auther.Logout(ctx.Context(), payload.Refresh); err != nil {
		a.Logger.Info("logout rejected", "error", err)
		status, body := ErrorStatus(err)
		if status == http.StatusUnauthorized {
			status = http.StatusBadRequest
		}
		return ctx.JSON(status, body)
	}

	return ctx.NoContent(http.StatusResetContent)
}

func (a *AccountController) Me(ctx router.Context) error {
	account, err := a.currentAccount(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusOK, MeProfile(account))
}

// Predict proxies the request body to the inference service unchanged.
func (a *AccountController) Predict(ctx router.Context) error {
	if _, err := a.currentAccount(ctx); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	status, body, err := a.Predictor.Predict(ctx.Context(), ctx.Header("Content-Type"), ctx.Body())
	if err != nil {
		a.Logger.Error("inference proxy failed", "error", err)
		return ctx.JSON(http.StatusBadGateway, ErrorResponse{Detail: "Inference service unavailable."})
	}

	ctx.SetHeader("Content-Type", "application/json")
	return ctx.Status(status).Send(body)
}

func (a *AccountController) currentAccount(ctx router.Context) (*Account, error) {
	claims, err := ClaimsFromContext(ctx, a.ContextKey)
	if err != nil {
		return nil, err
	}
	return a.Auther.AccountFromClaims(ctx.Context(), claims)
}

func (a *AccountController) bindError(ctx router.Context, err error) error {
	a.Logger.Error("failed to parse payload", "error", err)
	fields := FieldErrors{}
	fields.Add("non_field_errors", "Failed to parse request body.")
	return a.ErrorHandler(ctx, NewValidationError("", fields))
}

// ProtectedRoute returns the JWT middleware for access tokens. Pass a role
// to restrict the route to it.
func ProtectedRoute(tokens TokenService, role Role, errorHandler router.ErrorHandler, listeners ...ValidationListener) router.MiddlewareFunc {
	if errorHandler == nil {
		errorHandler = WriteError
	}
	cfg := jwtware.Config{
		ErrorHandler:    errorHandler,
		ContextKey:      "user",
		AuthScheme:      "Bearer",
		TokenValidator:  AccessTokenValidator(tokens),
		RequiredRole:    string(role),
		ContextEnricher: ContextEnricherAdapter,
	}
	RegisterValidationListeners(&cfg, listeners...)
	return jwtware.New(cfg)
}

// AccessTokenValidator adapts the token service to the middleware. Only
// access tokens are accepted.
func AccessTokenValidator(tokens TokenService) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
		claims, err := tokens.ValidateType(raw, TokenTypeAccess)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}
