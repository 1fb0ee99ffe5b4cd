package accounts

import (
	validation "github.com/go-ozzo/ozzo-validation"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleDoctor, RoleResearcher, RoleAdmin:
		return true
	default:
		return false
	}
}

// Label returns the capitalized role name used in notifications
func (r Role) Label() string {
	switch r {
	case RoleDoctor:
		return "Doctor"
	case RoleResearcher:
		return "Researcher"
	case RoleAdmin:
		return "Admin"
	default:
		return "User"
	}
}

// IsAtLeast checks if this role meets the minimum required level.
// Doctors and researchers sit on the same level.
func (r Role) IsAtLeast(minRole Role) bool {
	hierarchy := map[Role]int{
		RoleDoctor:     1,
		RoleResearcher: 1,
		RoleAdmin:      2,
	}

	level, ok := hierarchy[r]
	if !ok {
		return false
	}
	floor, ok := hierarchy[minRole]
	if !ok {
		return false
	}
	return level >= floor
}

// Specialization of a doctor account
type Specialization string

const (
	SpecializationPulmonologist        Specialization = "pulmonologist"
	SpecializationRadiologist          Specialization = "radiologist"
	SpecializationInternist            Specialization = "internist"
	SpecializationEmergency            Specialization = "emergency"
	SpecializationFamily               Specialization = "family"
	SpecializationThoracicSurgeon      Specialization = "thoracic_surgeon"
	SpecializationRespiratoryTherapist Specialization = "respiratory_therapist"
	SpecializationOther                Specialization = "other"
)

var specializationLabels = map[Specialization]string{
	SpecializationPulmonologist:        "Pulmonologist",
	SpecializationRadiologist:          "Radiologist",
	SpecializationInternist:            "Internal Medicine",
	SpecializationEmergency:            "Emergency Medicine",
	SpecializationFamily:               "Family Medicine",
	SpecializationThoracicSurgeon:      "Thoracic Surgeon",
	SpecializationRespiratoryTherapist: "Respiratory Therapist",
	SpecializationOther:                "Other",
}

// Label returns the human readable specialization
func (s Specialization) Label() string {
	if l, ok := specializationLabels[s]; ok {
		return l
	}
	return string(s)
}

// AffiliationType of a researcher account
type AffiliationType string

const (
	AffiliationStudent               AffiliationType = "student"
	AffiliationPhDStudent            AffiliationType = "phd_student"
	AffiliationPostdoc               AffiliationType = "postdoc"
	AffiliationFaculty               AffiliationType = "faculty"
	AffiliationResearchScientist     AffiliationType = "research_scientist"
	AffiliationPrincipalInvestigator AffiliationType = "principal_investigator"
	AffiliationIndustryResearcher    AffiliationType = "industry_researcher"
	AffiliationOther                 AffiliationType = "other"
)

var affiliationLabels = map[AffiliationType]string{
	AffiliationStudent:               "Student",
	AffiliationPhDStudent:            "PhD Student",
	AffiliationPostdoc:               "Postdoctoral Researcher",
	AffiliationFaculty:               "Faculty",
	AffiliationResearchScientist:     "Research Scientist",
	AffiliationPrincipalInvestigator: "Principal Investigator",
	AffiliationIndustryResearcher:    "Industry Researcher",
	AffiliationOther:                 "Other",
}

func (a AffiliationType) Label() string {
	if l, ok := affiliationLabels[a]; ok {
		return l
	}
	return string(a)
}

// PurposeOfUse declared by a researcher
type PurposeOfUse string

const (
	PurposeAcademicResearch     PurposeOfUse = "academic_research"
	PurposeModelTesting         PurposeOfUse = "model_testing"
	PurposeAlgorithmDevelopment PurposeOfUse = "algorithm_development"
	PurposeClinicalTrial        PurposeOfUse = "clinical_trial"
	PurposeThesisProject        PurposeOfUse = "thesis_project"
	PurposeCollaborativeStudy   PurposeOfUse = "collaborative_study"
	PurposeEducational          PurposeOfUse = "educational_purpose"
	PurposeOther                PurposeOfUse = "other"
)

var purposeLabels = map[PurposeOfUse]string{
	PurposeAcademicResearch:     "Academic Research",
	PurposeModelTesting:         "Model Testing & Validation",
	PurposeAlgorithmDevelopment: "Algorithm Development",
	PurposeClinicalTrial:        "Clinical Trial",
	PurposeThesisProject:        "Thesis/Dissertation Project",
	PurposeCollaborativeStudy:   "Collaborative Study",
	PurposeEducational:          "Educational Purpose",
	PurposeOther:                "Other",
}

func (p PurposeOfUse) Label() string {
	if l, ok := purposeLabels[p]; ok {
		return l
	}
	return string(p)
}

func specializationValues() []any {
	return []any{
		SpecializationPulmonologist, SpecializationRadiologist, SpecializationInternist,
		SpecializationEmergency, SpecializationFamily, SpecializationThoracicSurgeon,
		SpecializationRespiratoryTherapist, SpecializationOther,
	}
}

func affiliationValues() []any {
	return []any{
		AffiliationStudent, AffiliationPhDStudent, AffiliationPostdoc, AffiliationFaculty,
		AffiliationResearchScientist, AffiliationPrincipalInvestigator,
		AffiliationIndustryResearcher, AffiliationOther,
	}
}

func purposeValues() []any {
	return []any{
		PurposeAcademicResearch, PurposeModelTesting, PurposeAlgorithmDevelopment,
		PurposeClinicalTrial, PurposeThesisProject, PurposeCollaborativeStudy,
		PurposeEducational, PurposeOther,
	}
}

// ValidateProfile checks that the profile group required by the role is
// populated. It does not touch the database.
func (a *Account) ValidateProfile() error {
	switch a.Role {
	case RoleDoctor:
		return validation.ValidateStruct(a,
			validation.Field(&a.MedicalLicenseNumber, validation.Required),
			validation.Field(&a.Specialization, validation.Required, validation.In(specializationValues()...)),
			validation.Field(&a.HospitalAffiliation, validation.Required),
		)
	case RoleResearcher:
		return validation.ValidateStruct(a,
			validation.Field(&a.ResearchInstitution, validation.Required),
			validation.Field(&a.AffiliationType, validation.Required, validation.In(affiliationValues()...)),
			validation.Field(&a.PurposeOfUse, validation.Required, validation.In(purposeValues()...)),
		)
	default:
		return nil
	}
}
