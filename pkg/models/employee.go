package models

import (
	"time"
)

// EmployeeType is the employment classification reported by the HR system
type EmployeeType string

const (
	EmployeeTypeFullTime EmployeeType = "full_time"
	EmployeeTypePartTime EmployeeType = "part_time"
	EmployeeTypeContract EmployeeType = "contract"
	EmployeeTypeIntern   EmployeeType = "intern"
)

// Employee is the canonical record produced by ingestion. It carries raw PII and
// is never persisted by this service.
type Employee struct {
	EmployeeID   string       `json:"employee_id" validate:"required"`
	CompanyID    string       `json:"company_id" validate:"required"`
	FirstName    string       `json:"first_name" validate:"required_without=LastName"`
	LastName     string       `json:"last_name" validate:"required_without=FirstName"`
	MiddleName   *string      `json:"middle_name,omitempty"`
	DateOfBirth  *time.Time   `json:"date_of_birth,omitempty"`
	SSN          string       `json:"ssn,omitempty"`
	Email        string       `json:"email,omitempty"`
	Phone        string       `json:"phone,omitempty"`
	Address      string       `json:"address,omitempty"`
	StartDate    time.Time    `json:"start_date" validate:"required"`
	EndDate      *time.Time   `json:"end_date,omitempty"`
	EmployeeType EmployeeType `json:"employee_type" validate:"required,oneof=full_time part_time contract intern"`
	JobTitle     string       `json:"job_title,omitempty"`
	Department   string       `json:"department,omitempty"`
	Version      int64        `json:"version" validate:"gte=0"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Ref returns the cross-company reference for the employee
func (e *Employee) Ref() EmployeeRef {
	return EmployeeRef{CompanyID: e.CompanyID, EmployeeID: e.EmployeeID}
}

// EmployeeRef identifies an employee globally. Employee ids are only unique
// within a company.
type EmployeeRef struct {
	CompanyID  string `json:"company_id" db:"company_id"`
	EmployeeID string `json:"employee_id" db:"employee_id"`
}

// Key is the stable string form used for canonical ordering and storage
func (r EmployeeRef) Key() string {
	return r.CompanyID + "/" + r.EmployeeID
}

func (r EmployeeRef) String() string {
	return r.Key()
}

// IsZero reports whether the ref is unset
func (r EmployeeRef) IsZero() bool {
	return r.CompanyID == "" && r.EmployeeID == ""
}

// CanonicalPair orders two refs so that the same unordered pair always yields
// the same (first, second) tuple. The boolean is true when the inputs were swapped.
func CanonicalPair(a, b EmployeeRef) (EmployeeRef, EmployeeRef, bool) {
	if b.Key() < a.Key() {
		return b, a, true
	}
	return a, b, false
}
