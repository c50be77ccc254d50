package domain

// RiskLevel enumerates guardrail outcomes.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Severity returns the ordinal of the level; unknown levels rank as safe.
func (l RiskLevel) Severity() int {
	return riskOrder[l]
}

// ParseRiskLevel maps free-form text to a level, defaulting to safe.
func ParseRiskLevel(value string) RiskLevel {
	level := RiskLevel(value)
	if _, ok := riskOrder[level]; ok {
		return level
	}
	return RiskSafe
}

// GuardrailAction describes how a matched rule wants the command handled.
type GuardrailAction string

const (
	ActionAllow           GuardrailAction = "allow"
	ActionSimpleConfirm   GuardrailAction = "simple_confirm"
	ActionConfirm         GuardrailAction = "confirm"
	ActionExplicitConfirm GuardrailAction = "explicit_confirm"
	ActionBlock           GuardrailAction = "block"
)

// RiskAssessment is the risk object attached to a suggestion. A true
// RequiresConfirmation is binding: the command must not run without an
// explicit acceptance step.
type RiskAssessment struct {
	Level                RiskLevel `json:"level"`
	Score                float64   `json:"score"`
	Factors              []string  `json:"factors,omitempty"`
	Warnings             []string  `json:"warnings,omitempty"`
	RequiresConfirmation bool      `json:"requiresConfirmation"`
	Blocked              bool      `json:"blocked,omitempty"`
}

// Merge combines two assessments: the more severe level and the higher
// score win, factors and warnings are unioned, and flags are OR-ed.
func (r RiskAssessment) Merge(other RiskAssessment) RiskAssessment {
	merged := r
	if other.Level.Severity() > merged.Level.Severity() || merged.Level == "" {
		merged.Level = other.Level
	}
	if other.Score > merged.Score {
		merged.Score = other.Score
	}
	merged.Factors = appendUnique(append([]string(nil), r.Factors...), other.Factors...)
	merged.Warnings = appendUnique(append([]string(nil), r.Warnings...), other.Warnings...)
	merged.RequiresConfirmation = r.RequiresConfirmation || other.RequiresConfirmation
	merged.Blocked = r.Blocked || other.Blocked
	return merged
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
