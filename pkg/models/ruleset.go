package models

import (
	"time"

	"github.com/google/uuid"
)

// Rule type values for rulesets
const (
	RuleTypeAPIDefinition    = "API_DEFINITION"    // Rules applied to API definition files
	RuleTypeAPIMetadata      = "API_METADATA"      // Rules applied to API metadata
	RuleTypeAPIDocumentation = "API_DOCUMENTATION" // Rules applied to API documentation
)

// Artifact type values for rulesets
const (
	ArtifactTypeRESTAPI  = "REST_API"
	ArtifactTypeAsyncAPI = "ASYNC_API"
)

// Rule category values (rule-engine dialect the content is written in)
const (
	RuleCategorySpectral = "SPECTRAL"
)

// Ruleset represents a governance ruleset definition scoped to an organization.
// Stored in governance_rulesets table. Content holds the normalized rule
// document produced by the spectral validator; raw content is never stored
// without passing validation first.
type Ruleset struct {
	ID                uuid.UUID      `json:"id"`
	OrganizationID    uuid.UUID      `json:"organizationId"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Content           map[string]any `json:"content,omitempty"`
	RuleType          string         `json:"ruleType"`
	ArtifactType      string         `json:"artifactType"`
	RuleCategory      string         `json:"ruleCategory"`
	DocumentationLink string         `json:"documentationLink,omitempty"`
	Provider          string         `json:"provider,omitempty"`
	IsDefault         bool           `json:"isDefault"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// RulesetInfo is the content-free projection returned by list operations.
type RulesetInfo struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	RuleType          string    `json:"ruleType"`
	ArtifactType      string    `json:"artifactType"`
	RuleCategory      string    `json:"ruleCategory"`
	DocumentationLink string    `json:"documentationLink,omitempty"`
	Provider          string    `json:"provider,omitempty"`
	IsDefault         bool      `json:"isDefault"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Info returns the list projection of the ruleset.
func (r *Ruleset) Info() *RulesetInfo {
	return &RulesetInfo{
		ID:                r.ID,
		Name:              r.Name,
		Description:       r.Description,
		RuleType:          r.RuleType,
		ArtifactType:      r.ArtifactType,
		RuleCategory:      r.RuleCategory,
		DocumentationLink: r.DocumentationLink,
		Provider:          r.Provider,
		IsDefault:         r.IsDefault,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// RulesetList is the paginated list payload: total count across all pages
// plus the requested page.
type RulesetList struct {
	Count int            `json:"count"`
	List  []*RulesetInfo `json:"list"`
}
