package accounts

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BulkRejectionReason is stored on accounts rejected through a bulk action.
const BulkRejectionReason = "Bulk rejection by administrator"

// maxFailureLabels is how many failed recipients an action message names.
const maxFailureLabels = 3

// Admin console actions
const (
	ActionApprove   = "approve"
	ActionReject    = "reject"
	ActionReset     = "reset"
	ActionTestEmail = "test-email"
)

// ActionLevel mirrors admin message levels
type ActionLevel string

const (
	LevelSuccess ActionLevel = "success"
	LevelWarning ActionLevel = "warning"
	LevelError   ActionLevel = "error"
)

// ActionReport is the outcome of a bulk console action
type ActionReport struct {
	Action   string          `json:"action"`
	Message  string          `json:"message"`
	Level    ActionLevel     `json:"level"`
	Result   BulkResult      `json:"result"`
	Delivery *BulkSendResult `json:"delivery,omitempty"`
}

// AccountPage is a page of accounts plus the unpaginated total
type AccountPage struct {
	Count   int        `json:"count"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	Results []*Account `json:"results"`
}

// AccountDetail adds the reviewer lookup to an account
type AccountDetail struct {
	*Account
	ReviewedByEmail string `json:"reviewed_by_email,omitempty"`
	ReviewedByName  string `json:"reviewed_by_name,omitempty"`
}

// AccountUpdate is a partial edit from the console. Nil fields are left alone.
type AccountUpdate struct {
	FullName        *string        `json:"full_name"`
	PhoneNumber     *string        `json:"phone_number"`
	Country         *string        `json:"country"`
	IsActive        *bool          `json:"is_active"`
	Status          *AccountStatus `json:"account_status"`
	RejectionReason *string        `json:"rejection_reason"`
	// Notify defaults to true for status changes
	Notify *bool `json:"notify"`

	MedicalLicenseNumber *string `json:"medical_license_number"`
	Specialization       *string `json:"specialization"`
	HospitalAffiliation  *string `json:"hospital_affiliation"`
	ResearchInstitution  *string `json:"research_institution"`
	AffiliationType      *string `json:"affiliation_type"`
	PurposeOfUse         *string `json:"purpose_of_use"`
	OrcidID              *string `json:"orcid_id"`
}

// Validate will validate the payload
func (u AccountUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.FullName, validation.NilOrNotEmpty, validation.Length(1, 255)),
		validation.Field(&u.PhoneNumber, validation.By(func(value any) error {
			if u.PhoneNumber == nil {
				return nil
			}
			return ValidatePhoneNumber(*u.PhoneNumber)
		})),
		validation.Field(&u.Status, validation.By(func(value any) error {
			if u.Status == nil {
				return nil
			}
			if u.Status.IsValid() {
				return nil
			}
			return fmt.Errorf("%q is not a valid choice", *u.Status)
		})),
		validation.Field(&u.Specialization, validation.NilOrNotEmpty, validation.In(stringValues(specializationValues())...)),
		validation.Field(&u.AffiliationType, validation.NilOrNotEmpty, validation.In(stringValues(affiliationValues())...)),
		validation.Field(&u.PurposeOfUse, validation.NilOrNotEmpty, validation.In(stringValues(purposeValues())...)),
		validation.Field(&u.OrcidID, orcidRule),
	)
}

// ConsoleOption customizes the admin console
type ConsoleOption func(*AdminConsole)

func WithConsoleDispatcher(d *NotificationDispatcher) ConsoleOption {
	return func(c *AdminConsole) {
		c.dispatcher = d
	}
}

func WithConsoleLogger(logger Logger) ConsoleOption {
	return func(c *AdminConsole) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// AdminConsole lists, edits and bulk reviews accounts. Every status change
// is delegated to the approval state machine.
type AdminConsole struct {
	repo       RepositoryManager
	accounts   Accounts
	machine    ApprovalStateMachine
	dispatcher *NotificationDispatcher
	logger     Logger
}

// NewAdminConsole wires the console
func NewAdminConsole(repo RepositoryManager, machine ApprovalStateMachine, opts ...ConsoleOption) *AdminConsole {
	c := &AdminConsole{
		repo:     repo,
		accounts: repo.Accounts(),
		machine:  machine,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *AdminConsole) List(ctx context.Context, filter AccountFilter) (*AccountPage, error) {
	records, total, err := c.accounts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return &AccountPage{
		Count:   total,
		Limit:   limit,
		Offset:  filter.Offset,
		Results: records,
	}, nil
}

func (c *AdminConsole) Get(ctx context.Context, id uuid.UUID) (*AccountDetail, error) {
	account, err := c.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.detail(ctx, account), nil
}

func (c *AdminConsole) detail(ctx context.Context, account *Account) *AccountDetail {
	d := &AccountDetail{Account: account}
	if account.ReviewedBy == nil {
		return d
	}
	reviewer, err := c.accounts.GetByID(ctx, *account.ReviewedBy)
	if err != nil {
		c.logger.Debug("reviewer lookup failed", "reviewer_id", account.ReviewedBy, "error", err)
		return d
	}
	d.ReviewedByEmail = reviewer.Email
	d.ReviewedByName = reviewer.DisplayName()
	return d
}

// Update edits non status fields and routes a status change through the
// state machine. Both writes share one transaction. The decision
// notification goes out after commit.
func (c *AdminConsole) Update(ctx context.Context, actor ActorRef, id uuid.UUID, update AccountUpdate) (*AccountDetail, error) {
	if err := update.Validate(); err != nil {
		return nil, NewValidationError("", FieldErrorsFromValidation(err))
	}

	account, err := c.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *TransitionResult
	err = c.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		columns := applyAccountUpdate(account, update)
		if len(columns) > 0 {
			if _, err := c.accounts.UpdateFieldsTx(ctx, tx, account, columns...); err != nil {
				return err
			}
		}

		var err error
		result, err = c.applyStatus(ctx, tx, actor, account, update)
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Complete(ctx)

	return c.detail(ctx, account), nil
}

func (c *AdminConsole) applyStatus(ctx context.Context, tx bun.IDB, actor ActorRef, account *Account, update AccountUpdate) (*TransitionResult, error) {
	target := account.Status
	if update.Status != nil {
		target = *update.Status
	}

	reason := account.RejectionReason
	if update.RejectionReason != nil {
		reason = strings.TrimSpace(*update.RejectionReason)
	}

	opts := []TransitionOption{WithTransitionTx(tx)}
	if update.Notify != nil && !*update.Notify {
		opts = append(opts, WithoutNotification())
	}

	switch {
	case target != account.Status:
		if target == StatusRejected {
			return c.machine.Reject(ctx, actor, account, reason, opts...)
		}
		return c.machine.Transition(ctx, actor, account, target, opts...)
	case target == StatusRejected && reason != account.RejectionReason:
		// reason edit on an already rejected account
		return c.machine.Reject(ctx, actor, account, reason, WithTransitionTx(tx), WithoutNotification())
	}
	return nil, nil
}

func applyAccountUpdate(a *Account, u AccountUpdate) []string {
	var columns []string
	set := func(dst *string, src *string, column string) {
		if src == nil {
			return
		}
		*dst = strings.TrimSpace(*src)
		columns = append(columns, column)
	}

	set(&a.FullName, u.FullName, "full_name")
	set(&a.Country, u.Country, "country")
	if u.PhoneNumber != nil {
		phone, _ := NormalizePhoneNumber(*u.PhoneNumber)
		a.PhoneNumber = phone
		columns = append(columns, "phone_number")
	}
	if u.IsActive != nil {
		a.IsActive = *u.IsActive
		columns = append(columns, "is_active")
	}

	switch a.Role {
	case RoleDoctor:
		set(&a.MedicalLicenseNumber, u.MedicalLicenseNumber, "medical_license_number")
		set(&a.HospitalAffiliation, u.HospitalAffiliation, "hospital_affiliation")
		if u.Specialization != nil {
			a.Specialization = Specialization(*u.Specialization)
			columns = append(columns, "specialization")
		}
	case RoleResearcher:
		set(&a.ResearchInstitution, u.ResearchInstitution, "research_institution")
		set(&a.OrcidID, u.OrcidID, "orcid_id")
		if u.AffiliationType != nil {
			a.AffiliationType = AffiliationType(*u.AffiliationType)
			columns = append(columns, "affiliation_type")
		}
		if u.PurposeOfUse != nil {
			a.PurposeOfUse = PurposeOfUse(*u.PurposeOfUse)
			columns = append(columns, "purpose_of_use")
		}
	}
	return columns
}

// ApproveSelected approves the pending and rejected accounts among ids.
func (c *AdminConsole) ApproveSelected(ctx context.Context, actor ActorRef, ids []uuid.UUID) (*ActionReport, error) {
	accounts, err := c.accounts.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := c.machine.BulkApprove(ctx, actor, accounts)
	report := &ActionReport{Action: ActionApprove, Result: result, Level: LevelSuccess}
	report.Message = decisionMessage(result, "approved", "approval")
	if len(result.NotificationFailures) > 0 || result.Failed > 0 {
		report.Level = LevelWarning
	}
	return report, nil
}

// RejectSelected rejects the pending and approved accounts among ids with
// BulkRejectionReason.
func (c *AdminConsole) RejectSelected(ctx context.Context, actor ActorRef, ids []uuid.UUID) (*ActionReport, error) {
	accounts, err := c.accounts.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := c.machine.BulkReject(ctx, actor, accounts, BulkRejectionReason)
	report := &ActionReport{Action: ActionReject, Result: result, Level: LevelSuccess}
	report.Message = decisionMessage(result, "rejected", "rejection")
	if len(result.NotificationFailures) > 0 || result.Failed > 0 {
		report.Level = LevelWarning
	}
	return report, nil
}

// ResetSelected moves decided accounts among ids back to pending.
func (c *AdminConsole) ResetSelected(ctx context.Context, actor ActorRef, ids []uuid.UUID) (*ActionReport, error) {
	accounts, err := c.accounts.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := c.machine.BulkResetToPending(ctx, actor, accounts)
	report := &ActionReport{
		Action: ActionReset,
		Result: result,
		Level:  LevelSuccess,
		Message: fmt.Sprintf(
			"%d user(s) marked as pending approval. Previous approval/rejection details have been cleared.",
			result.Succeeded,
		),
	}
	if result.Failed > 0 {
		report.Level = LevelWarning
	}
	return report, nil
}

// SendTestNotification sends the test template to every selected account.
// It never changes status.
func (c *AdminConsole) SendTestNotification(ctx context.Context, actor ActorRef, ids []uuid.UUID) (*ActionReport, error) {
	if c.dispatcher == nil {
		return nil, fmt.Errorf("notifications are not configured")
	}

	accounts, err := c.accounts.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	delivery := c.dispatcher.NotifyBulk(ctx, NotificationTest, accounts, "", actor)
	report := &ActionReport{Action: ActionTestEmail, Delivery: &delivery, Level: LevelSuccess}

	var parts []string
	if delivery.SuccessCount > 0 {
		parts = append(parts, fmt.Sprintf("Test emails sent successfully to %d user(s).", delivery.SuccessCount))
	}
	if delivery.FailureCount > 0 {
		parts = append(parts, fmt.Sprintf("Failed to send test emails to %d user(s).", delivery.FailureCount))
		report.Level = LevelWarning
	}
	report.Message = strings.Join(parts, " ")
	return report, nil
}

// RunAction dispatches a named bulk action
func (c *AdminConsole) RunAction(ctx context.Context, actor ActorRef, action string, ids []uuid.UUID) (*ActionReport, error) {
	if len(ids) == 0 {
		fields := FieldErrors{}
		fields.Add("ids", "select at least one account")
		return nil, NewValidationError("", fields)
	}

	switch action {
	case ActionApprove:
		return c.ApproveSelected(ctx, actor, ids)
	case ActionReject:
		return c.RejectSelected(ctx, actor, ids)
	case ActionReset:
		return c.ResetSelected(ctx, actor, ids)
	case ActionTestEmail:
		return c.SendTestNotification(ctx, actor, ids)
	}

	fields := FieldErrors{}
	fields.Add("action", fmt.Sprintf("unknown action %q", action))
	return nil, NewValidationError("", fields)
}

func decisionMessage(result BulkResult, verb, noun string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d user(s) have been %s.", result.Succeeded, verb)
	if result.NotificationSent > 0 {
		fmt.Fprintf(&b, " %d %s email(s) sent successfully.", result.NotificationSent, noun)
	}
	if len(result.NotificationFailures) > 0 {
		b.WriteString(" ")
		b.WriteString(FailureSummary(result.NotificationFailures))
	}
	if result.Failed > 0 {
		fmt.Fprintf(&b, " %d user(s) could not be updated.", result.Failed)
	}
	return b.String()
}

// FailureSummary names the first three failed recipients and counts the rest.
func FailureSummary(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	shown := labels
	if len(shown) > maxFailureLabels {
		shown = shown[:maxFailureLabels]
	}
	msg := "Failed to send email to: " + strings.Join(shown, ", ")
	if extra := len(labels) - maxFailureLabels; extra > 0 {
		msg += fmt.Sprintf(" and %d others.", extra)
	}
	return msg
}
