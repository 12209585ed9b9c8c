// Package errors holds the matching engine's error taxonomy.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// NormalizationError marks an identifier that was missing or malformed. It is
// never fatal: the identifier is excluded from scoring.
type NormalizationError struct {
	Identifier string
	EmployeeID string
	CompanyID  string
	Reason     string
}

func NewNormalizationError(identifier, reason string) *NormalizationError {
	return &NormalizationError{Identifier: identifier, Reason: reason}
}

// ForEmployee attaches the employee the error belongs to
func (e *NormalizationError) ForEmployee(companyID, employeeID string) *NormalizationError {
	e.CompanyID = companyID
	e.EmployeeID = employeeID
	return e
}

func (e *NormalizationError) Error() string {
	if e.EmployeeID == "" {
		return fmt.Sprintf("normalization: %s %s", e.Identifier, e.Reason)
	}
	return fmt.Sprintf("normalization: %s %s (employee %s/%s)", e.Identifier, e.Reason, e.CompanyID, e.EmployeeID)
}

// CandidateLookupError means the candidate index could not answer for an employee
type CandidateLookupError struct {
	EmployeeID string
	CompanyID  string
	Err        error
}

func NewCandidateLookupError(companyID, employeeID string, err error) *CandidateLookupError {
	return &CandidateLookupError{CompanyID: companyID, EmployeeID: employeeID, Err: err}
}

func (e *CandidateLookupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("candidate lookup failed for %s/%s", e.CompanyID, e.EmployeeID)
	}
	return fmt.Sprintf("candidate lookup failed for %s/%s: %v", e.CompanyID, e.EmployeeID, e.Err)
}

func (e *CandidateLookupError) Unwrap() error {
	return e.Err
}

// ConfigurationError is raised for invalid weights or thresholds. A run refuses
// to start when it sees one.
type ConfigurationError struct {
	Problems []string
}

func NewConfigurationError(problems ...string) *ConfigurationError {
	return &ConfigurationError{Problems: problems}
}

// NewConfigurationErrorf creates a ConfigurationError with a single formatted problem
func NewConfigurationErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// Add appends a problem
func (e *ConfigurationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// OrNil returns nil when no problems were recorded
func (e *ConfigurationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

func (e *ConfigurationError) Error() string {
	return "invalid matching configuration: " + strings.Join(e.Problems, "; ")
}

// ToHTTPError converts the error for the API surface
func (e *ConfigurationError) ToHTTPError() error {
	herr := httperror.NewHTTPError(http.StatusUnprocessableEntity, e.Error())
	return herr
}

// PersistenceConflict is returned when a concurrent writer upserted the same
// canonical pair. Callers resolve it by re-reading and merging.
type PersistenceConflict struct {
	PairKey string
	Err     error
}

func NewPersistenceConflict(pairKey string, err error) *PersistenceConflict {
	return &PersistenceConflict{PairKey: pairKey, Err: err}
}

func (e *PersistenceConflict) Error() string {
	return fmt.Sprintf("persistence conflict on pair %s: %v", e.PairKey, e.Err)
}

func (e *PersistenceConflict) Unwrap() error {
	return e.Err
}

// IsNormalization reports whether err is or wraps a NormalizationError
func IsNormalization(err error) bool {
	var target *NormalizationError
	return errors.As(err, &target)
}

// IsCandidateLookup reports whether err is or wraps a CandidateLookupError
func IsCandidateLookup(err error) bool {
	var target *CandidateLookupError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is or wraps a ConfigurationError
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsPersistenceConflict reports whether err is or wraps a PersistenceConflict
func IsPersistenceConflict(err error) bool {
	var target *PersistenceConflict
	return errors.As(err, &target)
}
