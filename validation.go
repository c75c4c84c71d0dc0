package frost

import (
	"fmt"
	"math"
)

// MaxParticipants bounds N so ids stay small and round fan-out stays sane.
const MaxParticipants = 1000

// ThresholdParams is the (T, N) pair of a key. Participants are 1..N.
type ThresholdParams struct {
	Threshold int `json:"threshold" mapstructure:"threshold"`
	Total     int `json:"total" mapstructure:"total"`
}

// Validate fails with ErrInvalidParams unless 1 <= T <= N.
func (p ThresholdParams) Validate() error {
	switch {
	case p.Total < 1:
		return ErrInvalidParams.WithDetails("participant count %d must be positive", p.Total)
	case p.Total > MaxParticipants:
		return ErrInvalidParams.WithDetails("participant count %d exceeds maximum %d", p.Total, MaxParticipants)
	case p.Threshold < 1:
		return ErrInvalidParams.WithDetails("threshold %d must be positive", p.Threshold)
	case p.Threshold > p.Total:
		return ErrInvalidParams.WithDetails("threshold %d exceeds participant count %d", p.Threshold, p.Total)
	}
	return nil
}

// Participants returns 1..N.
func (p ThresholdParams) Participants() []ParticipantIndex {
	ids := make([]ParticipantIndex, p.Total)
	for i := range ids {
		ids[i] = ParticipantIndex(i + 1)
	}
	return ids
}

// Contains reports whether id is a valid participant id.
func (p ThresholdParams) Contains(id ParticipantIndex) bool {
	return id >= 1 && int(id) <= p.Total
}

// SecurityLevel represents the security level of threshold parameters
type SecurityLevel string

const (
	SecurityLevelLow    SecurityLevel = "low"
	SecurityLevelMedium SecurityLevel = "medium"
	SecurityLevelHigh   SecurityLevel = "high"
)

// Byzantine fault tolerance constants
const (
	DefaultByzantineRatio = 2.0 / 3.0 // 2/3 for Byzantine fault tolerance
)

// ValidationResult contains the result of parameter validation
type ValidationResult struct {
	Valid                   bool          `json:"valid"`
	SecurityLevel           SecurityLevel `json:"security_level"`
	ByzantineFaultTolerance bool          `json:"byzantine_fault_tolerance"`
	Warnings                []string      `json:"warnings,omitempty"`
	Errors                  []string      `json:"errors,omitempty"`
}

// ThresholdValidator grades threshold parameters beyond the hard 1 <= T <= N rule.
type ThresholdValidator struct {
	ByzantineRatio      float64 `json:"byzantine_ratio"`       // For Byzantine fault tolerance (typically 2/3)
	RecommendedMinRatio float64 `json:"recommended_min_ratio"` // Minimum recommended threshold ratio
	RecommendedMaxRatio float64 `json:"recommended_max_ratio"` // Maximum recommended threshold ratio
}

// NewDefaultThresholdValidator creates a validator with secure default parameters
func NewDefaultThresholdValidator() *ThresholdValidator {
	return &ThresholdValidator{
		ByzantineRatio:      DefaultByzantineRatio,
		RecommendedMinRatio: 0.51, // Just over half
		RecommendedMaxRatio: 0.80, // Leave room for availability
	}
}

// Assess validates params and attaches warnings about weak or brittle choices.
func (tv *ThresholdValidator) Assess(params ThresholdParams) *ValidationResult {
	result := &ValidationResult{
		Valid:         true,
		SecurityLevel: SecurityLevelMedium,
	}

	if err := params.Validate(); err != nil {
		result.Valid = false
		result.SecurityLevel = SecurityLevelLow
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	threshold, total := params.Threshold, params.Total
	thresholdRatio := float64(threshold) / float64(total)

	if threshold >= int(math.Ceil(float64(total)*tv.ByzantineRatio)) {
		result.ByzantineFaultTolerance = true
		result.SecurityLevel = SecurityLevelHigh
	}

	if thresholdRatio < tv.RecommendedMinRatio {
		result.SecurityLevel = SecurityLevelLow
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"threshold ratio is below recommended minimum, consider at least %d",
			int(math.Ceil(float64(total)*tv.RecommendedMinRatio))))
	} else if thresholdRatio > tv.RecommendedMaxRatio && threshold != total {
		result.Warnings = append(result.Warnings, "threshold ratio is high, may affect availability")
	}

	if threshold == 1 {
		result.SecurityLevel = SecurityLevelLow
		result.Warnings = append(result.Warnings, "threshold of 1 lets any single participant sign")
	}

	if threshold == total {
		result.Warnings = append(result.Warnings, "threshold equals participant count - no fault tolerance")
	}

	return result
}

// ValidateSigningSet checks a signing subset against the key: ids known,
// no duplicates, at least T members.
func ValidateSigningSet(pub *PublicKeyPackage, set []ParticipantIndex) error {
	seen := make(map[ParticipantIndex]bool, len(set))
	for _, id := range set {
		if _, ok := pub.VerificationShares[id]; !ok {
			return ErrInvalidParticipantID.WithOffender(id).WithDetails("participant %d holds no share of this key", id)
		}
		if seen[id] {
			return ErrInvalidCommitment.WithOffender(id).WithDetails("participant %d appears twice", id)
		}
		seen[id] = true
	}
	if len(set) < pub.Threshold {
		return ErrThresholdNotMet.WithDetails("%d signers, threshold is %d", len(set), pub.Threshold)
	}
	return nil
}
