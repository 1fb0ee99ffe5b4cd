package accounts

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

const (
	DetailAccountCreated    = "User created successfully."
	DetailDoctorCreated     = "Doctor account created successfully. Your account is pending approval by an administrator."
	DetailResearcherCreated = "Researcher account created successfully. Your account is pending approval by an administrator."
	DetailAdminCreated      = "Administrator account created successfully."

	msgTermsRequired = "Terms and conditions must be accepted"
)

// RegistrationMessage is implemented by every registration command.
type RegistrationMessage interface {
	Type() string
	Validate() error
	GetEmail() string
	GetPassword() string
	newAccount(now time.Time) *Account
	successDetail() string
}

// RegisterAccountMessage registers a generic account with no role profile.
type RegisterAccountMessage struct {
	Email       string `json:"email" form:"email"`
	FullName    string `json:"full_name" form:"full_name"`
	Password    string `json:"password" form:"password"`
	PhoneNumber string `json:"phone_number" form:"phone_number"`
	Country     string `json:"country" form:"country"`
}

func (e RegisterAccountMessage) Type() string        { return "account.register" }
func (e RegisterAccountMessage) GetEmail() string    { return e.Email }
func (e RegisterAccountMessage) GetPassword() string { return e.Password }
func (e RegisterAccountMessage) successDetail() string {
	return DetailAccountCreated
}

// Validate will validate the payload
func (e RegisterAccountMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.FullName, validation.Required, validation.Length(1, 255)),
		validation.Field(&e.Password, passwordRules()...),
		validation.Field(&e.PhoneNumber, validation.By(ValidatePhoneNumber)),
	)
}

func (e RegisterAccountMessage) newAccount(now time.Time) *Account {
	return &Account{
		Email:       e.Email,
		FullName:    strings.TrimSpace(e.FullName),
		PhoneNumber: e.PhoneNumber,
		Country:     strings.TrimSpace(e.Country),
		IsActive:    true,
		DateJoined:  now,
		Status:      StatusPending,
	}
}

// RegisterDoctorMessage registers a clinician pending review.
type RegisterDoctorMessage struct {
	Email                string `json:"email" form:"email"`
	FullName             string `json:"full_name" form:"full_name"`
	Password             string `json:"password" form:"password"`
	ConfirmPassword      string `json:"confirm_password" form:"confirm_password"`
	PhoneNumber          string `json:"phone_number" form:"phone_number"`
	Country              string `json:"country" form:"country"`
	TermsAccepted        bool   `json:"terms_accepted" form:"terms_accepted"`
	MedicalLicenseNumber string `json:"medical_license_number" form:"medical_license_number"`
	Specialization       string `json:"specialization" form:"specialization"`
	HospitalAffiliation  string `json:"hospital_affiliation" form:"hospital_affiliation"`
	MedicalLicenseFile   string `json:"medical_license_file" form:"medical_license_file"`
}

func (e RegisterDoctorMessage) Type() string        { return "account.register.doctor" }
func (e RegisterDoctorMessage) GetEmail() string    { return e.Email }
func (e RegisterDoctorMessage) GetPassword() string { return e.Password }
func (e RegisterDoctorMessage) successDetail() string {
	return DetailDoctorCreated
}

// Validate will validate the payload
func (e RegisterDoctorMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.FullName, validation.Required, validation.Length(1, 255)),
		validation.Field(&e.Password, passwordRules()...),
		validation.Field(&e.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(e.Password))),
		validation.Field(&e.TermsAccepted, validation.By(ValidateAccepted(msgTermsRequired))),
		validation.Field(&e.PhoneNumber, validation.By(ValidatePhoneNumber)),
		validation.Field(&e.MedicalLicenseNumber, validation.Required, validation.Length(1, 100)),
		validation.Field(&e.Specialization, validation.Required, validation.In(stringValues(specializationValues())...)),
		validation.Field(&e.HospitalAffiliation, validation.Required, validation.Length(1, 255)),
	)
}

func (e RegisterDoctorMessage) newAccount(now time.Time) *Account {
	account := RegisterAccountMessage{
		Email:       e.Email,
		FullName:    e.FullName,
		PhoneNumber: e.PhoneNumber,
		Country:     e.Country,
	}.newAccount(now)

	account.Role = RoleDoctor
	account.TermsAccepted = true
	account.TermsAcceptedAt = &now
	account.MedicalLicenseNumber = strings.TrimSpace(e.MedicalLicenseNumber)
	account.Specialization = Specialization(e.Specialization)
	account.HospitalAffiliation = strings.TrimSpace(e.HospitalAffiliation)
	account.MedicalLicenseFile = strings.TrimSpace(e.MedicalLicenseFile)
	return account
}

// RegisterResearcherMessage registers a researcher pending review.
type RegisterResearcherMessage struct {
	Email               string `json:"email" form:"email"`
	FullName            string `json:"full_name" form:"full_name"`
	Password            string `json:"password" form:"password"`
	ConfirmPassword     string `json:"confirm_password" form:"confirm_password"`
	PhoneNumber         string `json:"phone_number" form:"phone_number"`
	Country             string `json:"country" form:"country"`
	TermsAccepted       bool   `json:"terms_accepted" form:"terms_accepted"`
	ResearchInstitution string `json:"research_institution" form:"research_institution"`
	AffiliationType     string `json:"affiliation_type" form:"affiliation_type"`
	PurposeOfUse        string `json:"purpose_of_use" form:"purpose_of_use"`
	OrcidID             string `json:"orcid_id" form:"orcid_id"`
	InstitutionalIDFile string `json:"institutional_id_file" form:"institutional_id_file"`
}

func (e RegisterResearcherMessage) Type() string        { return "account.register.researcher" }
func (e RegisterResearcherMessage) GetEmail() string    { return e.Email }
func (e RegisterResearcherMessage) GetPassword() string { return e.Password }
func (e RegisterResearcherMessage) successDetail() string {
	return DetailResearcherCreated
}

// Validate will validate the payload
func (e RegisterResearcherMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.FullName, validation.Required, validation.Length(1, 255)),
		validation.Field(&e.Password, passwordRules()...),
		validation.Field(&e.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(e.Password))),
		validation.Field(&e.TermsAccepted, validation.By(ValidateAccepted(msgTermsRequired))),
		validation.Field(&e.PhoneNumber, validation.By(ValidatePhoneNumber)),
		validation.Field(&e.ResearchInstitution, validation.Required, validation.Length(1, 255)),
		validation.Field(&e.AffiliationType, validation.Required, validation.In(stringValues(affiliationValues())...)),
		validation.Field(&e.PurposeOfUse, validation.Required, validation.In(stringValues(purposeValues())...)),
		validation.Field(&e.OrcidID, orcidRule),
	)
}

func (e RegisterResearcherMessage) newAccount(now time.Time) *Account {
	account := RegisterAccountMessage{
		Email:       e.Email,
		FullName:    e.FullName,
		PhoneNumber: e.PhoneNumber,
		Country:     e.Country,
	}.newAccount(now)

	account.Role = RoleResearcher
	account.TermsAccepted = true
	account.TermsAcceptedAt = &now
	account.ResearchInstitution = strings.TrimSpace(e.ResearchInstitution)
	account.AffiliationType = AffiliationType(e.AffiliationType)
	account.PurposeOfUse = PurposeOfUse(e.PurposeOfUse)
	account.OrcidID = strings.TrimSpace(e.OrcidID)
	account.InstitutionalIDFile = strings.TrimSpace(e.InstitutionalIDFile)
	return account
}

// CreateAdminMessage creates an administrator. Administrators are approved
// at creation and carry no reviewer.
type CreateAdminMessage struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

func (e CreateAdminMessage) Type() string        { return "account.create.admin" }
func (e CreateAdminMessage) GetEmail() string    { return e.Email }
func (e CreateAdminMessage) GetPassword() string { return e.Password }
func (e CreateAdminMessage) successDetail() string {
	return DetailAdminCreated
}

// Validate will validate the payload
func (e CreateAdminMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, passwordRules()...),
	)
}

func (e CreateAdminMessage) newAccount(now time.Time) *Account {
	fullName := strings.TrimSpace(e.FullName)
	if fullName == "" {
		fullName = "Administrator"
	}
	return &Account{
		Email:      e.Email,
		FullName:   fullName,
		Role:       RoleAdmin,
		IsActive:   true,
		IsStaff:    true,
		DateJoined: now,
		Status:     StatusApproved,
	}
}

// RegistrationResult is returned on success. It never carries tokens.
type RegistrationResult struct {
	Detail  string
	Account *Account
}

// RegistrationHandler validates registration messages and creates accounts
type RegistrationHandler struct {
	repo         RepositoryManager
	passwords    PasswordAuthenticator
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
	useHashid    bool
}

// RegistrationOption customizes the handler
type RegistrationOption func(*RegistrationHandler)

func WithRegistrationPasswords(p PasswordAuthenticator) RegistrationOption {
	return func(h *RegistrationHandler) {
		if p != nil {
			h.passwords = p
		}
	}
}

func WithRegistrationActivitySink(sink ActivitySink) RegistrationOption {
	return func(h *RegistrationHandler) {
		h.activitySink = normalizeActivitySink(sink)
	}
}

func WithRegistrationLogger(logger Logger) RegistrationOption {
	return func(h *RegistrationHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithRegistrationClock(clock func() time.Time) RegistrationOption {
	return func(h *RegistrationHandler) {
		if clock != nil {
			h.now = clock
		}
	}
}

// WithRegistrationHashid derives account IDs from the email address.
func WithRegistrationHashid(enabled bool) RegistrationOption {
	return func(h *RegistrationHandler) {
		h.useHashid = enabled
	}
}

// NewRegistrationHandler returns a handler backed by the repository manager
func NewRegistrationHandler(repo RepositoryManager, opts ...RegistrationOption) *RegistrationHandler {
	h := &RegistrationHandler{
		repo:         repo,
		passwords:    BcryptAuthenticator{},
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Execute validates the message and creates the account.
func (h *RegistrationHandler) Execute(ctx context.Context, msg RegistrationMessage) (*RegistrationResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *RegistrationHandler) execute(ctx context.Context, msg RegistrationMessage) (*RegistrationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	fields := FieldErrorsFromValidation(msg.Validate())

	if !fields.Has("email") {
		exists, err := h.repo.Accounts().EmailExists(ctx, msg.GetEmail())
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email uniqueness")
		}
		if exists {
			fields.Add("email", ErrEmailTaken.Message)
		}
	}

	if len(fields) > 0 {
		return nil, NewValidationError("", fields)
	}

	hash, err := h.passwords.HashPassword(msg.GetPassword())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := h.now()
	account := msg.newAccount(now)
	account.Email = NormalizeEmail(account.Email)
	account.PasswordHash = hash
	account.NormalizeProfiles()

	if phone, err := NormalizePhoneNumber(account.PhoneNumber); err == nil {
		account.PhoneNumber = phone
	}

	if h.useHashid {
		if id, err := hashid.NewUUID(account.Email); err == nil {
			account.ID = id
		}
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Accounts().CreateTx(ctx, tx, account)
		if err != nil {
			return err
		}
		account = created
		return nil
	})

	if err != nil {
		var validationErr *ValidationError
		if goerrors.As(err, &validationErr) {
			return nil, validationErr
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}

		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
		ToStatus:  account.Status,
		Metadata: map[string]any{
			"role":         string(account.Role),
			"message_type": msg.Type(),
		},
	})

	h.logger.Info("account registered", "id", account.ID, "role", account.Role, "status", account.Status)

	return &RegistrationResult{
		Detail:  msg.successDetail(),
		Account: account,
	}, nil
}

func stringValues(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case Specialization:
			out = append(out, string(t))
		case AffiliationType:
			out = append(out, string(t))
		case PurposeOfUse:
			out = append(out, string(t))
		default:
			out = append(out, v)
		}
	}
	return out
}
