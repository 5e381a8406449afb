package enums

import "fmt"

// DisputeType is the reason category the reporter picked when opening.
type DisputeType string

const (
	DisputeTypeItemNotReceived DisputeType = "item_not_received"
	DisputeTypeNotAsDescribed  DisputeType = "not_as_described"
	DisputeTypePaymentIssue    DisputeType = "payment_issue"
	DisputeTypeOther           DisputeType = "other"
)

var validDisputeTypes = []DisputeType{
	DisputeTypeItemNotReceived,
	DisputeTypeNotAsDescribed,
	DisputeTypePaymentIssue,
	DisputeTypeOther,
}

// String implements fmt.Stringer.
func (d DisputeType) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeType.
func (d DisputeType) IsValid() bool {
	for _, candidate := range validDisputeTypes {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeType converts raw input into a DisputeType.
func ParseDisputeType(value string) (DisputeType, error) {
	for _, candidate := range validDisputeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute type %q", value)
}
