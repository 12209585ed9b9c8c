package models

import (
	"time"
)

// IdentifierKind names a comparable identifier
type IdentifierKind string

const (
	IdentifierSSN   IdentifierKind = "ssn"
	IdentifierEmail IdentifierKind = "email"
	IdentifierPhone IdentifierKind = "phone"
	IdentifierDOB   IdentifierKind = "dob"
	IdentifierName  IdentifierKind = "name"
)

// AllIdentifiers lists identifier kinds in scoring order
var AllIdentifiers = []IdentifierKind{
	IdentifierSSN,
	IdentifierEmail,
	IdentifierPhone,
	IdentifierDOB,
	IdentifierName,
}

// ExactIdentifiers are compared by digest equality and indexed in exact buckets
var ExactIdentifiers = []IdentifierKind{
	IdentifierSSN,
	IdentifierEmail,
	IdentifierPhone,
	IdentifierDOB,
}

// HashedIdentifierSet is the PII-free projection of one employee version.
// Hash fields are lowercase hex HMAC-SHA256 digests; names are normalized but
// not hashed so they can be compared approximately.
type HashedIdentifierSet struct {
	SSNHash          string           `json:"ssn_hash,omitempty"`
	SSNLocalHash     string           `json:"ssn_local_hash,omitempty"`
	EmailHash        string           `json:"email_hash,omitempty"`
	PhoneHash        string           `json:"phone_hash,omitempty"`
	DOBHash          string           `json:"dob_hash,omitempty"`
	FirstNormalized  string           `json:"first_normalized,omitempty"`
	MiddleNormalized string           `json:"middle_normalized,omitempty"`
	LastNormalized   string           `json:"last_normalized,omitempty"`
	NameNormalized   string           `json:"name_normalized,omitempty"`
	NameSoundex      string           `json:"name_soundex,omitempty"`
	NameMetaphone    string           `json:"name_metaphone,omitempty"`
	SaltVersion      int              `json:"salt_version"`
	Absent           []IdentifierKind `json:"absent,omitempty"`
}

// Hash returns the digest for an exact identifier kind, or "" when absent
func (h *HashedIdentifierSet) Hash(kind IdentifierKind) string {
	switch kind {
	case IdentifierSSN:
		return h.SSNHash
	case IdentifierEmail:
		return h.EmailHash
	case IdentifierPhone:
		return h.PhoneHash
	case IdentifierDOB:
		return h.DOBHash
	}
	return ""
}

// Has reports whether the identifier is usable for comparison
func (h *HashedIdentifierSet) Has(kind IdentifierKind) bool {
	if kind == IdentifierName {
		return h.FirstNormalized != "" || h.LastNormalized != ""
	}
	return h.Hash(kind) != ""
}

// EmployeeProfile is what the engine persists and matches on
type EmployeeProfile struct {
	CompanyID    string              `json:"company_id" db:"company_id"`
	EmployeeID   string              `json:"employee_id" db:"employee_id"`
	Version      int64               `json:"version" db:"version"`
	Identifiers  HashedIdentifierSet `json:"identifiers" db:"-"`
	StartDate    time.Time           `json:"start_date" db:"start_date"`
	EndDate      *time.Time          `json:"end_date,omitempty" db:"end_date"`
	EmployeeType EmployeeType        `json:"employee_type" db:"employee_type"`
	Fingerprint  string              `json:"fingerprint" db:"fingerprint"`
	UpdatedAt    time.Time           `json:"updated_at" db:"updated_at"`
}

// Ref returns the profile's employee reference
func (p *EmployeeProfile) Ref() EmployeeRef {
	return EmployeeRef{CompanyID: p.CompanyID, EmployeeID: p.EmployeeID}
}
