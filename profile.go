package accounts

// Profile is the JSON view of an account returned to its owner. Keys for
// the other role's profile are never present.
type Profile map[string]any

// LoginProfile is embedded in the login response
func LoginProfile(a *Account) Profile {
	if a == nil {
		return Profile{}
	}
	p := Profile{
		"email":          a.Email,
		"full_name":      a.FullName,
		"role":           a.Role,
		"country":        a.Country,
		"phone_number":   a.PhoneNumber,
		"account_status": a.Status,
	}
	return p.withRoleFields(a)
}

// MeProfile is returned by the current account endpoint
func MeProfile(a *Account) Profile {
	if a == nil {
		return Profile{}
	}
	p := Profile{
		"id":           a.ID,
		"email":        a.Email,
		"full_name":    a.FullName,
		"role":         a.Role,
		"country":      a.Country,
		"phone_number": a.PhoneNumber,
		"date_joined":  a.DateJoined,
	}
	return p.withRoleFields(a)
}

// RegistrationSummary is echoed back after a successful registration.
func RegistrationSummary(a *Account) Profile {
	if a == nil {
		return Profile{}
	}
	p := Profile{
		"id":             a.ID,
		"email":          a.Email,
		"full_name":      a.FullName,
		"role":           a.Role,
		"account_status": a.Status,
	}
	return p.withRoleFields(a)
}

func (p Profile) withRoleFields(a *Account) Profile {
	switch a.Role {
	case RoleDoctor:
		p["medical_license_number"] = a.MedicalLicenseNumber
		p["specialization"] = a.Specialization
		p["hospital_affiliation"] = a.HospitalAffiliation
	case RoleResearcher:
		p["research_institution"] = a.ResearchInstitution
		p["affiliation_type"] = a.AffiliationType
		p["purpose_of_use"] = a.PurposeOfUse
		p["orcid_id"] = a.OrcidID
	}
	return p
}
