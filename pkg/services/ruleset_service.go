package services

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apigovern/ruleset-engine/pkg/apperrors"
	"github.com/apigovern/ruleset-engine/pkg/models"
	"github.com/apigovern/ruleset-engine/pkg/repositories"
	"github.com/apigovern/ruleset-engine/pkg/spectral"
)

// Pagination bounds for ruleset listing.
const (
	DefaultListLimit = 25
	MaxListLimit     = 100
)

// CreateRulesetInput carries the fields accepted when creating a ruleset.
// Content is raw YAML/JSON bytes; it is validated before anything is stored.
type CreateRulesetInput struct {
	Name              string `validate:"required,max=256"`
	Content           []byte `validate:"required"`
	ContentFormat     spectral.Format
	RuleType          string `validate:"required,oneof=API_DEFINITION API_METADATA API_DOCUMENTATION"`
	ArtifactType      string `validate:"required,oneof=REST_API ASYNC_API"`
	RuleCategory      string `validate:"omitempty,oneof=SPECTRAL"`
	Description       string `validate:"max=1024"`
	DocumentationLink string `validate:"omitempty,url"`
	Provider          string `validate:"max=256"`
}

// UpdateRulesetInput carries the mutable fields of a ruleset. Content is
// optional; when nil the stored content is kept and not re-validated.
type UpdateRulesetInput struct {
	Name              string `validate:"required,max=256"`
	Content           []byte
	ContentFormat     spectral.Format
	Description       string `validate:"max=1024"`
	DocumentationLink string `validate:"omitempty,url"`
}

// RulesetService orchestrates ruleset lifecycle operations: content
// validation, persistence, and reference-guarded deletion.
type RulesetService interface {
	CreateRuleset(ctx context.Context, orgID uuid.UUID, in *CreateRulesetInput) (*models.Ruleset, error)
	UpdateRuleset(ctx context.Context, orgID, rulesetID uuid.UUID, in *UpdateRulesetInput) (*models.Ruleset, error)
	DeleteRuleset(ctx context.Context, orgID, rulesetID uuid.UUID) error
	GetRuleset(ctx context.Context, orgID, rulesetID uuid.UUID) (*models.Ruleset, error)
	GetRulesetContent(ctx context.Context, orgID, rulesetID uuid.UUID) ([]byte, error)
	ListRulesets(ctx context.Context, orgID uuid.UUID, limit, offset int, nameFilter string) (*models.RulesetList, error)
	ReferencingPolicies(ctx context.Context, orgID, rulesetID uuid.UUID) ([]*models.PolicyReference, error)
}

type rulesetService struct {
	repo     repositories.RulesetRepository
	refs     repositories.PolicyReferenceRepository
	validate *validator.Validate
	logger   *zap.Logger
}

// NewRulesetService creates a new RulesetService.
func NewRulesetService(
	repo repositories.RulesetRepository,
	refs repositories.PolicyReferenceRepository,
	logger *zap.Logger,
) RulesetService {
	return &rulesetService{
		repo:     repo,
		refs:     refs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

var _ RulesetService = (*rulesetService)(nil)

func (s *rulesetService) CreateRuleset(ctx context.Context, orgID uuid.UUID, in *CreateRulesetInput) (*models.Ruleset, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid create ruleset request: %w", err)
	}

	doc, err := spectral.Validate(in.Content, in.ContentFormat)
	if err != nil {
		return nil, err
	}

	ruleCategory := in.RuleCategory
	if ruleCategory == "" {
		ruleCategory = models.RuleCategorySpectral
	}

	ruleset := &models.Ruleset{
		OrganizationID:    orgID,
		Name:              in.Name,
		Description:       in.Description,
		Content:           doc.Map(),
		RuleType:          in.RuleType,
		ArtifactType:      in.ArtifactType,
		RuleCategory:      ruleCategory,
		DocumentationLink: in.DocumentationLink,
		Provider:          in.Provider,
	}

	if err := s.repo.Create(ctx, ruleset); err != nil {
		return nil, err
	}

	s.logger.Info("Created ruleset",
		zap.String("organization_id", orgID.String()),
		zap.String("ruleset_id", ruleset.ID.String()),
		zap.String("name", ruleset.Name))

	return ruleset, nil
}

func (s *rulesetService) UpdateRuleset(ctx context.Context, orgID, rulesetID uuid.UUID, in *UpdateRulesetInput) (*models.Ruleset, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid update ruleset request: %w", err)
	}

	// Validate new content before touching the stored record so a rejected
	// update leaves the ruleset unchanged.
	var doc *spectral.Document
	if len(in.Content) > 0 {
		var err error
		doc, err = spectral.Validate(in.Content, in.ContentFormat)
		if err != nil {
			return nil, err
		}
	}

	ruleset, err := s.repo.GetByID(ctx, orgID, rulesetID)
	if err != nil {
		return nil, err
	}
	if ruleset == nil {
		return nil, apperrors.ErrNotFound
	}

	ruleset.Name = in.Name
	ruleset.Description = in.Description
	ruleset.DocumentationLink = in.DocumentationLink
	if doc != nil {
		ruleset.Content = doc.Map()
	}

	if err := s.repo.Update(ctx, ruleset); err != nil {
		return nil, err
	}

	s.logger.Info("Updated ruleset",
		zap.String("organization_id", orgID.String()),
		zap.String("ruleset_id", rulesetID.String()),
		zap.String("name", ruleset.Name))

	return ruleset, nil
}

func (s *rulesetService) DeleteRuleset(ctx context.Context, orgID, rulesetID uuid.UUID) error {
	if err := s.repo.Delete(ctx, orgID, rulesetID); err != nil {
		return err
	}

	s.logger.Info("Deleted ruleset",
		zap.String("organization_id", orgID.String()),
		zap.String("ruleset_id", rulesetID.String()))

	return nil
}

func (s *rulesetService) GetRuleset(ctx context.Context, orgID, rulesetID uuid.UUID) (*models.Ruleset, error) {
	ruleset, err := s.repo.GetByID(ctx, orgID, rulesetID)
	if err != nil {
		return nil, err
	}
	if ruleset == nil {
		return nil, apperrors.ErrNotFound
	}
	return ruleset, nil
}

// GetRulesetContent returns the stored normalized content serialized as YAML.
func (s *rulesetService) GetRulesetContent(ctx context.Context, orgID, rulesetID uuid.UUID) ([]byte, error) {
	ruleset, err := s.GetRuleset(ctx, orgID, rulesetID)
	if err != nil {
		return nil, err
	}

	doc := spectral.NewDocument(ruleset.Content)
	content, err := doc.MarshalYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize ruleset content: %w", err)
	}

	return content, nil
}

func (s *rulesetService) ListRulesets(ctx context.Context, orgID uuid.UUID, limit, offset int, nameFilter string) (*models.RulesetList, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	infos, total, err := s.repo.List(ctx, orgID, limit, offset, nameFilter)
	if err != nil {
		return nil, err
	}

	if infos == nil {
		infos = []*models.RulesetInfo{}
	}

	return &models.RulesetList{Count: total, List: infos}, nil
}

func (s *rulesetService) ReferencingPolicies(ctx context.Context, orgID, rulesetID uuid.UUID) ([]*models.PolicyReference, error) {
	ruleset, err := s.repo.GetByID(ctx, orgID, rulesetID)
	if err != nil {
		return nil, err
	}
	if ruleset == nil {
		return nil, apperrors.ErrNotFound
	}

	refs, err := s.refs.ReferencingPolicies(ctx, rulesetID)
	if err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []*models.PolicyReference{}
	}

	return refs, nil
}
