package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/apigovern/ruleset-engine/pkg/apperrors"
	"github.com/apigovern/ruleset-engine/pkg/database"
	"github.com/apigovern/ruleset-engine/pkg/models"
)

// PolicyReferenceRepository reads the policy-to-ruleset association owned by
// the governance policy engine. This service never mutates the association;
// it only queries it to guard deletion and to build diagnostics.
type PolicyReferenceRepository interface {
	IsReferenced(ctx context.Context, rulesetID uuid.UUID) (bool, error)
	ReferencingPolicies(ctx context.Context, rulesetID uuid.UUID) ([]*models.PolicyReference, error)
}

type policyReferenceRepository struct{}

// NewPolicyReferenceRepository creates a new PolicyReferenceRepository.
func NewPolicyReferenceRepository() PolicyReferenceRepository {
	return &policyReferenceRepository{}
}

var _ PolicyReferenceRepository = (*policyReferenceRepository)(nil)

func (r *policyReferenceRepository) IsReferenced(ctx context.Context, rulesetID uuid.UUID) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, apperrors.ErrNoTenantScope
	}

	var referenced bool
	err := scope.Conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM governance_policy_rulesets WHERE ruleset_id = $1)`,
		rulesetID,
	).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("failed to check policy references: %w", err)
	}

	return referenced, nil
}

func (r *policyReferenceRepository) ReferencingPolicies(ctx context.Context, rulesetID uuid.UUID) ([]*models.PolicyReference, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT pr.policy_id, p.name, pr.attached_at
		FROM governance_policy_rulesets pr
		JOIN governance_policies p ON p.id = pr.policy_id
		WHERE pr.ruleset_id = $1
		ORDER BY pr.attached_at, pr.policy_id`

	rows, err := scope.Conn.Query(ctx, query, rulesetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query referencing policies: %w", err)
	}
	defer rows.Close()

	var refs []*models.PolicyReference
	for rows.Next() {
		var ref models.PolicyReference
		if err := rows.Scan(&ref.PolicyID, &ref.PolicyName, &ref.AttachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan policy reference: %w", err)
		}
		refs = append(refs, &ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy references: %w", err)
	}

	return refs, nil
}
