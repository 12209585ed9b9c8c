package models

import (
	"time"
)

// RiskLevel classifies potential dual-employment severity
type RiskLevel string

const (
	RiskInformational RiskLevel = "informational"
	RiskLow           RiskLevel = "low"
	RiskMedium        RiskLevel = "medium"
	RiskHigh          RiskLevel = "high"
	RiskCritical      RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskInformational: 0,
	RiskLow:           1,
	RiskMedium:        2,
	RiskHigh:          3,
	RiskCritical:      4,
}

// Rank orders risk levels; unknown levels rank below informational
func (r RiskLevel) Rank() int {
	rank, ok := riskRank[r]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast reports whether r is as severe as other
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// MatchStatus is the review state of a match. Transitions out of pending are
// made by human reviewers.
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusConfirmed MatchStatus = "confirmed"
	MatchStatusRejected  MatchStatus = "rejected"
)

// MatchFactor is the per-identifier evidence behind a confidence score. It is
// complete enough to explain a match without re-running the engine.
type MatchFactor struct {
	Identifier   IdentifierKind `json:"identifier"`
	Present      bool           `json:"present"`
	Similarity   float64        `json:"similarity"`
	Weight       float64        `json:"weight"`
	Contribution float64        `json:"contribution"`
	Details      []string       `json:"details,omitempty"`
}

// Factor detail markers
const (
	DetailExact         = "exact"
	DetailNickname      = "nickname"
	DetailSoundexBonus  = "soundex_bonus"
	DetailMetaphone     = "metaphone"
	DetailLowConfidence = "low_confidence"
	DetailDisabled      = "disabled"
	DetailMissingSide   = "missing_on_one_side"
)

// Match is the durable output of the engine: one row per canonical pair
type Match struct {
	ID                  string        `json:"id" db:"id"`
	Employee1           EmployeeRef   `json:"employee1" db:"-"`
	Employee2           EmployeeRef   `json:"employee2" db:"-"`
	Employee1Version    int64         `json:"employee1_version" db:"employee1_version"`
	Employee2Version    int64         `json:"employee2_version" db:"employee2_version"`
	ConfidenceScore     float64       `json:"confidence_score" db:"confidence_score"`
	MatchFactors        []MatchFactor `json:"match_factors" db:"-"`
	TemporalOverlap     bool          `json:"temporal_overlap" db:"temporal_overlap"`
	OverlapDays         int           `json:"overlap_days" db:"overlap_days"`
	AdjustedOverlapDays int           `json:"adjusted_overlap_days" db:"adjusted_overlap_days"`
	WithinGracePeriod   bool          `json:"within_grace_period" db:"within_grace_period"`
	RiskLevel           RiskLevel     `json:"risk_level" db:"risk_level"`
	Status              MatchStatus   `json:"status" db:"status"`
	Reviewed            bool          `json:"reviewed" db:"reviewed"`
	ConfigVersion       string        `json:"config_version" db:"config_version"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
}

// SameOutcome reports whether two matches carry the same scoring result, used to
// decide whether an update needs to be published
func (m *Match) SameOutcome(other *Match) bool {
	if other == nil {
		return false
	}
	return m.RiskLevel == other.RiskLevel &&
		m.OverlapDays == other.OverlapDays &&
		roundScore(m.ConfidenceScore) == roundScore(other.ConfidenceScore)
}

func roundScore(v float64) int64 {
	return int64(v*10000 + 0.5)
}

// MatchFilter narrows match listings
type MatchFilter struct {
	CompanyID     string      `query:"company_id"`
	EmployeeID    string      `query:"employee_id"`
	Status        MatchStatus `query:"status" validate:"omitempty,oneof=pending confirmed rejected"`
	MinRisk       RiskLevel   `query:"min_risk" validate:"omitempty,oneof=informational low medium high critical"`
	MinConfidence float64     `query:"min_confidence" validate:"gte=0,lte=1"`
	Limit         int         `query:"limit" validate:"gte=0"`
	Offset        int         `query:"offset" validate:"gte=0"`
}
