package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is the account role
type Role string

const (
	// RoleDoctor is a clinician using the diagnostic tools
	RoleDoctor Role = "doctor"
	// RoleResearcher is an academic or industry researcher
	RoleResearcher Role = "researcher"
	// RoleAdmin manages accounts through the admin console
	RoleAdmin Role = "admin"
)

// AccountStatus tracks the approval lifecycle of an account.
type AccountStatus string

const (
	StatusPending  AccountStatus = "pending"
	StatusApproved AccountStatus = "approved"
	StatusRejected AccountStatus = "rejected"
)

// IsValid reports whether the status is one of the three lifecycle states.
func (s AccountStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// DefaultCountry is assigned when registration omits a country.
const DefaultCountry = "United States"

// Account is the account model
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID              uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Email           string        `bun:"email,notnull,unique" json:"email"`
	FullName        string        `bun:"full_name,notnull" json:"full_name"`
	Role            Role          `bun:"role,notnull" json:"role"`
	PasswordHash    string        `bun:"password_hash,notnull" json:"-"`
	IsActive        bool          `bun:"is_active,notnull" json:"is_active"`
	IsStaff         bool          `bun:"is_staff,notnull" json:"is_staff"`
	PhoneNumber     string        `bun:"phone_number" json:"phone_number,omitempty"`
	Country         string        `bun:"country" json:"country,omitempty"`
	DateJoined      time.Time     `bun:"date_joined,notnull" json:"date_joined"`
	TermsAccepted   bool          `bun:"terms_accepted,notnull" json:"terms_accepted"`
	TermsAcceptedAt *time.Time    `bun:"terms_accepted_at,nullzero" json:"terms_accepted_at,omitempty"`
	Status          AccountStatus `bun:"account_status,notnull" json:"account_status"`
	RejectionReason string        `bun:"rejection_reason" json:"rejection_reason,omitempty"`
	ReviewedBy      *uuid.UUID    `bun:"reviewed_by,type:uuid,nullzero" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time    `bun:"reviewed_at,nullzero" json:"reviewed_at,omitempty"`
	LastLoginAt     *time.Time    `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`

	// doctor profile
	MedicalLicenseNumber string         `bun:"medical_license_number" json:"medical_license_number,omitempty"`
	Specialization       Specialization `bun:"specialization" json:"specialization,omitempty"`
	HospitalAffiliation  string         `bun:"hospital_affiliation" json:"hospital_affiliation,omitempty"`
	MedicalLicenseFile   string         `bun:"medical_license_file" json:"medical_license_file,omitempty"`

	// researcher profile
	ResearchInstitution string          `bun:"research_institution" json:"research_institution,omitempty"`
	AffiliationType     AffiliationType `bun:"affiliation_type" json:"affiliation_type,omitempty"`
	PurposeOfUse        PurposeOfUse    `bun:"purpose_of_use" json:"purpose_of_use,omitempty"`
	OrcidID             string          `bun:"orcid_id" json:"orcid_id,omitempty"`
	InstitutionalIDFile string          `bun:"institutional_id_file" json:"institutional_id_file,omitempty"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureStatus defaults an empty status to pending.
func (a *Account) EnsureStatus() {
	if a == nil {
		return
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
}

func (a *Account) IsPending() bool  { return a != nil && a.Status == StatusPending }
func (a *Account) IsApproved() bool { return a != nil && a.Status == StatusApproved }
func (a *Account) IsRejected() bool { return a != nil && a.Status == StatusRejected }

// CanLogin reports whether the gate would issue tokens for this account.
func (a *Account) CanLogin() bool {
	return a != nil && a.IsActive && a.Status == StatusApproved
}

// IsDoctor reports whether the account carries the doctor role
func (a *Account) IsDoctor() bool { return a != nil && a.Role == RoleDoctor }

// IsResearcher reports whether the account carries the researcher role
func (a *Account) IsResearcher() bool { return a != nil && a.Role == RoleResearcher }

// IsAdmin reports whether the account carries the admin role
func (a *Account) IsAdmin() bool { return a != nil && a.Role == RoleAdmin }

// DisplayName returns the full name, falling back to the email.
func (a *Account) DisplayName() string {
	if a == nil {
		return ""
	}
	if name := strings.TrimSpace(a.FullName); name != "" {
		return name
	}
	return a.Email
}

// ClearDoctorProfile empties the doctor profile fields.
func (a *Account) ClearDoctorProfile() {
	a.MedicalLicenseNumber = ""
	a.Specialization = ""
	a.HospitalAffiliation = ""
	a.MedicalLicenseFile = ""
}

// ClearResearcherProfile empties the researcher profile fields.
func (a *Account) ClearResearcherProfile() {
	a.ResearchInstitution = ""
	a.AffiliationType = ""
	a.PurposeOfUse = ""
	a.OrcidID = ""
	a.InstitutionalIDFile = ""
}

// NormalizeProfiles keeps only the profile group that matches the role.
func (a *Account) NormalizeProfiles() {
	switch a.Role {
	case RoleDoctor:
		a.ClearResearcherProfile()
	case RoleResearcher:
		a.ClearDoctorProfile()
	default:
		a.ClearDoctorProfile()
		a.ClearResearcherProfile()
	}
}

// NormalizeEmail trims and lower-cases an address so lookups are case insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
