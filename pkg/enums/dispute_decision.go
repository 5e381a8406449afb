package enums

import "fmt"

// DisputeDecision is the resolver's verdict; each decision maps to exactly
// one order transition out of the disputed state.
type DisputeDecision string

const (
	DisputeDecisionFavorSeller DisputeDecision = "favor_seller"
	DisputeDecisionFavorBuyer  DisputeDecision = "favor_buyer"
	DisputeDecisionSplit       DisputeDecision = "split"
)

var validDisputeDecisions = []DisputeDecision{
	DisputeDecisionFavorSeller,
	DisputeDecisionFavorBuyer,
	DisputeDecisionSplit,
}

// String implements fmt.Stringer.
func (d DisputeDecision) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeDecision.
func (d DisputeDecision) IsValid() bool {
	for _, candidate := range validDisputeDecisions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeDecision converts raw input into a DisputeDecision.
func ParseDisputeDecision(value string) (DisputeDecision, error) {
	for _, candidate := range validDisputeDecisions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute decision %q", value)
}
