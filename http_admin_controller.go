package accounts

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// AdminControllerRoutes holds the console route paths
type AdminControllerRoutes struct {
	List   string
	Detail string
	Action string
}

// AdminController exposes the admin console over HTTP. Every route requires
// a staff account.
type AdminController struct {
	Logger       Logger
	Routes       *AdminControllerRoutes
	Console      *AdminConsole
	Auther       Authenticator
	ContextKey   string
	ErrorHandler router.ErrorHandler
}

// AdminControllerOption configures the admin controller
type AdminControllerOption func(*AdminController) *AdminController

func WithAdminLogger(logger Logger) AdminControllerOption {
	return func(c *AdminController) *AdminController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithAdminErrorHandler(h router.ErrorHandler) AdminControllerOption {
	return func(c *AdminController) *AdminController {
		if h != nil {
			c.ErrorHandler = h
		}
		return c
	}
}

func NewAdminController(console *AdminConsole, auther Authenticator, opts ...AdminControllerOption) *AdminController {
	c := &AdminController{
		Logger:       defLogger{},
		Console:      console,
		Auther:       auther,
		ContextKey:   "user",
		ErrorHandler: WriteError,
		Routes: &AdminControllerRoutes{
			List:   "/admin/accounts/",
			Detail: "/admin/accounts/:id/",
			Action: "/admin/accounts/actions/:action/",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Console == nil {
		panic("Missing AdminConsole in admin controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in admin controller...")
	}

	return c
}

// RegisterAdminRoutes mounts the console routes behind the given middleware.
func RegisterAdminRoutes(app RouteRegistrar, protected router.MiddlewareFunc, console *AdminConsole, auther Authenticator, opts ...AdminControllerOption) *AdminController {
	c := NewAdminController(console, auther, opts...)

	app.Get(c.Routes.List, c.List, protected)
	app.Get(c.Routes.Detail, c.Detail, protected)
	app.Patch(c.Routes.Detail, c.Update, protected)
	app.Post(c.Routes.Action, c.Action, protected)

	return c
}

// ActionRequest selects the accounts a bulk action applies to
type ActionRequest struct {
	IDs []string `form:"ids" json:"ids"`
}

func (c *AdminController) List(ctx router.Context) error {
	if _, err := c.staffActor(ctx); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	filter, err := ParseAccountFilter(func(key string) string {
		return ctx.Query(key, "")
	})
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	page, err := c.Console.List(ctx.Context(), filter)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, page)
}

func (c *AdminController) Detail(ctx router.Context) error {
	if _, err := c.staffActor(ctx); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	id, err := parseAccountID(ctx.Param("id"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	detail, err := c.Console.Get(ctx.Context(), id)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, detail)
}

func (c *AdminController) Update(ctx router.Context) error {
	actor, err := c.staffActor(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	id, err := parseAccountID(ctx.Param("id"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	payload := new(AccountUpdate)
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("failed to parse account update", "error", err)
		return c.ErrorHandler(ctx, NewValidationError("Failed to parse request body.", nil))
	}

	detail, err := c.Console.Update(ctx.Context(), actor, id, *payload)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, detail)
}

func (c *AdminController) Action(ctx router.Context) error {
	actor, err := c.staffActor(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	payload := new(ActionRequest)
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("failed to parse action payload", "error", err)
		return c.ErrorHandler(ctx, NewValidationError("Failed to parse request body.", nil))
	}

	ids := make([]uuid.UUID, 0, len(payload.IDs))
	for _, raw := range payload.IDs {
		id, err := parseAccountID(raw)
		if err != nil {
			return c.ErrorHandler(ctx, err)
		}
		ids = append(ids, id)
	}

	report, err := c.Console.RunAction(ctx.Context(), actor, ctx.Param("action"), ids)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, report)
}

// staffActor resolves the calling account and requires staff or admin rights.
func (c *AdminController) staffActor(ctx router.Context) (ActorRef, error) {
	claims, err := ClaimsFromContext(ctx, c.ContextKey)
	if err != nil {
		return ActorRef{}, err
	}

	account, err := c.Auther.AccountFromClaims(ctx.Context(), claims)
	if err != nil {
		return ActorRef{}, err
	}

	if !account.IsStaff && !account.IsAdmin() {
		c.Logger.Warn("console access denied", "account_id", account.ID)
		return ActorRef{}, ErrForbidden
	}

	return AccountActor(account), nil
}

func parseAccountID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		fields := FieldErrors{}
		fields.Add("id", "Must be a valid UUID.")
		return uuid.Nil, NewValidationError("", fields)
	}
	return id, nil
}

// ParseAccountFilter builds a listing filter from query values. Dates accept
// RFC3339 or YYYY-MM-DD.
func ParseAccountFilter(get func(key string) string) (AccountFilter, error) {
	filter := AccountFilter{
		Role:            Role(get("role")),
		Status:          AccountStatus(get("account_status")),
		Country:         get("country"),
		Specialization:  Specialization(get("specialization")),
		AffiliationType: AffiliationType(get("affiliation_type")),
		Search:          strings.TrimSpace(get("search")),
		Ordering:        get("ordering"),
	}

	fields := FieldErrors{}

	if filter.Role != "" && !filter.Role.IsValid() {
		fields.Add("role", "Select a valid choice.")
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		fields.Add("account_status", "Select a valid choice.")
	}

	filter.Limit = parseIntParam(get, "limit", fields)
	filter.Offset = parseIntParam(get, "offset", fields)

	filter.JoinedAfter = parseTimeParam(get, "date_joined_after", fields)
	filter.JoinedBefore = parseTimeParam(get, "date_joined_before", fields)
	filter.ReviewedAfter = parseTimeParam(get, "reviewed_after", fields)
	filter.ReviewedBefore = parseTimeParam(get, "reviewed_before", fields)

	if len(fields) > 0 {
		return AccountFilter{}, NewValidationError("", fields)
	}

	return filter, nil
}

func parseIntParam(get func(string) string, key string, fields FieldErrors) int {
	raw := get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fields.Add(key, "A valid non negative integer is required.")
		return 0
	}
	return n
}

func parseTimeParam(get func(string) string, key string, fields FieldErrors) *time.Time {
	raw := strings.TrimSpace(get(key))
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	fields.Add(key, "Enter a valid date.")
	return nil
}
