// Package identifiers turns raw employee records into salted, PII-free
// identifier sets and profiles.
package identifiers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/fingerprint"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
)

const (
	ssnLength      = 9
	minPhoneDigits = 7
	dobLayout      = "2006-01-02"
)

// chains are the registered normalizers each raw identifier passes through
// before it is validated and digested
var chains = map[models.IdentifierKind][]string{
	models.IdentifierSSN:   {"trim", "nssn"},
	models.IdentifierEmail: {"trim", "lowercase"},
	models.IdentifierPhone: {"trim", "nphone"},
	models.IdentifierName:  {"trim", "nname"},
}

func normalize(kind models.IdentifierKind, value string) string {
	return normalizers.ApplyChain(value, chains[kind]...)
}

// Salts are the secrets digests are keyed with. Global covers every
// cross-company identifier; CompanyMaster derives per-company keys for
// company-local digests. Version changes whenever either secret rotates.
type Salts struct {
	Global        []byte
	CompanyMaster []byte
	Version       int
}

func (s *Salts) Validate() error {
	if s == nil {
		return errors.New("salts are required")
	}
	if len(s.Global) == 0 {
		return errors.New("global salt is empty")
	}
	if len(s.CompanyMaster) == 0 {
		return errors.New("company master salt is empty")
	}
	return nil
}

// Hasher normalizes and digests identifiers with a fixed set of salts
type Hasher struct {
	salts  *Salts
	scorer *matching.Scorer
}

func NewHasher(salts *Salts) (*Hasher, error) {
	if err := salts.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{salts: salts, scorer: matching.NewScorer(0.1)}, nil
}

// SaltVersion is the version stamped on every set this hasher produces
func (h *Hasher) SaltVersion() int {
	return h.salts.Version
}

// Digest returns the lowercase hex HMAC-SHA256 of value under the global salt
func (h *Hasher) Digest(value string) string {
	return digest(h.salts.Global, value)
}

// CompanyDigest returns the digest of value under the company-scoped key
// HMAC(companyMaster, companyID)
func (h *Hasher) CompanyDigest(companyID, value string) string {
	mac := hmac.New(sha256.New, h.salts.CompanyMaster)
	mac.Write([]byte(companyID))
	return digest(mac.Sum(nil), value)
}

func digest(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Normalize produces the hashed identifier set for an employee. Missing or
// malformed identifiers are marked absent; a NormalizationError is returned for
// each malformed identifier and for each missing identifier the configuration
// requires. Errors never abort normalization.
func (h *Hasher) Normalize(emp *models.Employee, cfg *models.MatchingConfiguration) (models.HashedIdentifierSet, []*matcherrors.NormalizationError) {
	set := models.HashedIdentifierSet{SaltVersion: h.salts.Version}
	var errs []*matcherrors.NormalizationError

	fail := func(kind models.IdentifierKind, reason string) {
		set.Absent = append(set.Absent, kind)
		errs = append(errs, matcherrors.NewNormalizationError(string(kind), reason).ForEmployee(emp.CompanyID, emp.EmployeeID))
	}
	missing := func(kind models.IdentifierKind) {
		if cfg != nil && cfg.IsRequired(kind) {
			fail(kind, "missing")
			return
		}
		set.Absent = append(set.Absent, kind)
	}

	switch ssn := normalize(models.IdentifierSSN, emp.SSN); {
	case strings.TrimSpace(emp.SSN) == "":
		missing(models.IdentifierSSN)
	case len(ssn) != ssnLength:
		fail(models.IdentifierSSN, "malformed: expected 9 digits")
	default:
		set.SSNHash = h.Digest(ssn)
		set.SSNLocalHash = h.CompanyDigest(emp.CompanyID, ssn)
	}

	switch email := normalize(models.IdentifierEmail, emp.Email); {
	case email == "":
		missing(models.IdentifierEmail)
	case !validEmail(email):
		fail(models.IdentifierEmail, "malformed: not an address")
	default:
		set.EmailHash = h.Digest(email)
	}

	switch phone := normalize(models.IdentifierPhone, emp.Phone); {
	case strings.TrimSpace(emp.Phone) == "":
		missing(models.IdentifierPhone)
	case len(phone) < minPhoneDigits:
		fail(models.IdentifierPhone, "malformed: too few digits")
	default:
		set.PhoneHash = h.Digest(phone)
	}

	if emp.DateOfBirth == nil || emp.DateOfBirth.IsZero() {
		missing(models.IdentifierDOB)
	} else {
		set.DOBHash = h.Digest(emp.DateOfBirth.UTC().Format(dobLayout))
	}

	set.FirstNormalized = normalize(models.IdentifierName, emp.FirstName)
	set.LastNormalized = normalize(models.IdentifierName, emp.LastName)
	if emp.MiddleName != nil {
		set.MiddleNormalized = normalize(models.IdentifierName, *emp.MiddleName)
	}
	if set.FirstNormalized == "" && set.LastNormalized == "" {
		missing(models.IdentifierName)
	} else {
		set.NameNormalized = strings.TrimSpace(set.FirstNormalized + " " + set.LastNormalized)
		set.NameSoundex = h.scorer.Soundex(set.LastNormalized)
		set.NameMetaphone = h.scorer.Metaphone(set.LastNormalized)
	}

	return set, errs
}

// Profile normalizes an employee and wraps the result with its employment
// interval and content fingerprint
func (h *Hasher) Profile(emp *models.Employee, cfg *models.MatchingConfiguration, now time.Time) (*models.EmployeeProfile, []*matcherrors.NormalizationError) {
	set, errs := h.Normalize(emp, cfg)

	profile := &models.EmployeeProfile{
		CompanyID:    emp.CompanyID,
		EmployeeID:   emp.EmployeeID,
		Version:      emp.Version,
		Identifiers:  set,
		StartDate:    emp.StartDate.UTC(),
		EmployeeType: emp.EmployeeType,
		UpdatedAt:    now,
	}
	if emp.EndDate != nil {
		end := emp.EndDate.UTC()
		profile.EndDate = &end
	}
	profile.Fingerprint = ProfileFingerprint(profile)
	return profile, errs
}

// ProfileFingerprint hashes the parts of a profile that affect matching. Two
// versions with the same fingerprint score identically.
func ProfileFingerprint(p *models.EmployeeProfile) string {
	v, err := fingerprint.GenerateFromValue(struct {
		Identifiers  models.HashedIdentifierSet `json:"identifiers"`
		StartDate    time.Time                  `json:"start_date"`
		EndDate      *time.Time                 `json:"end_date"`
		EmployeeType models.EmployeeType        `json:"employee_type"`
	}{p.Identifiers, p.StartDate, p.EndDate, p.EmployeeType})
	if err != nil {
		return ""
	}
	return v
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}
