package apperrors

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Stable numeric error codes exposed to API clients. Clients match on the
// numeric code, never on message text, so these values must not change.
const (
	CodeRulesetInUse         int64 = 990101
	CodeRulesetAlreadyExists int64 = 990102
	CodeRulesetNotFound      int64 = 990103
	CodeContentInvalid       int64 = 990120
)

// ContentError reports ruleset content that failed parsing or schema
// validation. Malformed input and schema violations share the same external
// code (990120); Reason distinguishes them for diagnostics only.
type ContentError struct {
	Reason  string
	Details []string
}

func (e *ContentError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("invalid ruleset content: %s", e.Reason)
	}
	return fmt.Sprintf("invalid ruleset content: %s: %s", e.Reason, strings.Join(e.Details, "; "))
}

// Code returns the stable external error code for invalid content.
func (e *ContentError) Code() int64 { return CodeContentInvalid }

// RulesetInUseError reports a delete blocked by active policy references.
// PolicyIDs carries the referencing policies for diagnostic detail.
type RulesetInUseError struct {
	RulesetID uuid.UUID
	PolicyIDs []uuid.UUID
}

func (e *RulesetInUseError) Error() string {
	return fmt.Sprintf("ruleset %s is in use by %d policies", e.RulesetID, len(e.PolicyIDs))
}

// Code returns the stable external error code for a blocked delete.
func (e *RulesetInUseError) Code() int64 { return CodeRulesetInUse }
