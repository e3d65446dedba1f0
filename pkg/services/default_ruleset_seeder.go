package services

import (
	"context"
	"embed"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apigovern/ruleset-engine/pkg/models"
	"github.com/apigovern/ruleset-engine/pkg/repositories"
	"github.com/apigovern/ruleset-engine/pkg/spectral"
)

//go:embed defaults/*.yaml
var defaultRulesetFS embed.FS

// Names of the built-in rulesets provisioned for every organization.
const (
	DefaultRulesetAPIManagement = "API Management Guidelines"
	DefaultRulesetREST          = "REST API Guidelines"
	DefaultRulesetOWASP         = "OWASP API Security Top 10"
)

// defaultRulesetSpec describes one built-in ruleset and its embedded content file.
type defaultRulesetSpec struct {
	Name              string
	File              string
	Description       string
	RuleType          string
	ArtifactType      string
	DocumentationLink string
}

var defaultRulesetSpecs = []defaultRulesetSpec{
	{
		Name:         DefaultRulesetAPIManagement,
		File:         "defaults/api-management-guidelines.yaml",
		Description:  "Baseline governance rules for API definitions.",
		RuleType:     models.RuleTypeAPIDefinition,
		ArtifactType: models.ArtifactTypeRESTAPI,
	},
	{
		Name:         DefaultRulesetREST,
		File:         "defaults/rest-api-guidelines.yaml",
		Description:  "Design guidelines for resource-oriented REST APIs.",
		RuleType:     models.RuleTypeAPIDefinition,
		ArtifactType: models.ArtifactTypeRESTAPI,
	},
	{
		Name:              DefaultRulesetOWASP,
		File:              "defaults/owasp-api-security.yaml",
		Description:       "Security rules derived from the OWASP API Security Top 10.",
		RuleType:          models.RuleTypeAPIDefinition,
		ArtifactType:      models.ArtifactTypeRESTAPI,
		DocumentationLink: "https://owasp.org/API-Security/",
	},
}

// DefaultRulesetNames returns the names of all built-in rulesets.
func DefaultRulesetNames() []string {
	names := make([]string, len(defaultRulesetSpecs))
	for i, spec := range defaultRulesetSpecs {
		names[i] = spec.Name
	}
	return names
}

// DefaultRulesetSeeder provisions the built-in rulesets for an organization.
// Seeding is idempotent: the unique name constraint guarantees no duplicates
// even when invoked concurrently for the same organization.
type DefaultRulesetSeeder struct {
	repo   repositories.RulesetRepository
	logger *zap.Logger
}

// NewDefaultRulesetSeeder creates a new DefaultRulesetSeeder.
func NewDefaultRulesetSeeder(repo repositories.RulesetRepository, logger *zap.Logger) *DefaultRulesetSeeder {
	return &DefaultRulesetSeeder{repo: repo, logger: logger}
}

// EnsureDefaults creates any missing built-in rulesets for the organization.
// Embedded content goes through the same validator as user uploads; a broken
// embedded file is a programming error and fails provisioning outright.
func (s *DefaultRulesetSeeder) EnsureDefaults(ctx context.Context, orgID uuid.UUID) error {
	for _, spec := range defaultRulesetSpecs {
		raw, err := defaultRulesetFS.ReadFile(spec.File)
		if err != nil {
			return fmt.Errorf("failed to read embedded ruleset %s: %w", spec.File, err)
		}

		doc, err := spectral.Validate(raw, spectral.FormatYAML)
		if err != nil {
			return fmt.Errorf("embedded ruleset %s failed validation: %w", spec.File, err)
		}

		ruleset := &models.Ruleset{
			OrganizationID:    orgID,
			Name:              spec.Name,
			Description:       spec.Description,
			Content:           doc.Map(),
			RuleType:          spec.RuleType,
			ArtifactType:      spec.ArtifactType,
			RuleCategory:      models.RuleCategorySpectral,
			DocumentationLink: spec.DocumentationLink,
			IsDefault:         true,
		}

		inserted, err := s.repo.SeedDefault(ctx, ruleset)
		if err != nil {
			return fmt.Errorf("failed to seed default ruleset %q: %w", spec.Name, err)
		}

		if inserted {
			s.logger.Info("Seeded default ruleset",
				zap.String("organization_id", orgID.String()),
				zap.String("name", spec.Name))
		}
	}

	return nil
}
