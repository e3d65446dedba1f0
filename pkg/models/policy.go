package models

import (
	"time"

	"github.com/google/uuid"
)

// PolicyReference identifies a governance policy that lists a ruleset among
// its attached rulesets. The policy engine owns the association; this service
// only reads it to guard ruleset deletion and to surface diagnostics.
type PolicyReference struct {
	PolicyID   uuid.UUID `json:"policyId"`
	PolicyName string    `json:"policyName"`
	AttachedAt time.Time `json:"attachedAt"`
}
