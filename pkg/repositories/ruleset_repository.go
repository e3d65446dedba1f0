package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/apigovern/ruleset-engine/pkg/apperrors"
	"github.com/apigovern/ruleset-engine/pkg/database"
	"github.com/apigovern/ruleset-engine/pkg/models"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// RulesetRepository provides data access for governance rulesets.
type RulesetRepository interface {
	Create(ctx context.Context, ruleset *models.Ruleset) error
	GetByID(ctx context.Context, orgID, rulesetID uuid.UUID) (*models.Ruleset, error)
	GetByName(ctx context.Context, orgID uuid.UUID, name string) (*models.Ruleset, error)
	List(ctx context.Context, orgID uuid.UUID, limit, offset int, nameFilter string) ([]*models.RulesetInfo, int, error)
	Update(ctx context.Context, ruleset *models.Ruleset) error
	// Delete removes the ruleset inside a transaction that re-verifies, with
	// the row locked, that no policy references it. Returns
	// *apperrors.RulesetInUseError when references exist.
	Delete(ctx context.Context, orgID, rulesetID uuid.UUID) error
	// SeedDefault inserts a default ruleset if no ruleset with the same name
	// exists in the organization. Returns true when a row was inserted.
	SeedDefault(ctx context.Context, ruleset *models.Ruleset) (bool, error)
}

type rulesetRepository struct{}

// NewRulesetRepository creates a new RulesetRepository.
func NewRulesetRepository() RulesetRepository {
	return &rulesetRepository{}
}

var _ RulesetRepository = (*rulesetRepository)(nil)

func (r *rulesetRepository) Create(ctx context.Context, ruleset *models.Ruleset) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	now := time.Now()

	query := `
		INSERT INTO governance_rulesets (
			id, organization_id, name, description, content, rule_type,
			artifact_type, rule_category, documentation_link, provider,
			is_default, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	if ruleset.ID == uuid.Nil {
		ruleset.ID = uuid.New()
	}

	err := scope.Conn.QueryRow(ctx, query,
		ruleset.ID,
		ruleset.OrganizationID,
		ruleset.Name,
		nullString(ruleset.Description),
		ruleset.Content,
		ruleset.RuleType,
		ruleset.ArtifactType,
		ruleset.RuleCategory,
		nullString(ruleset.DocumentationLink),
		nullString(ruleset.Provider),
		ruleset.IsDefault,
		now,
		now,
	).Scan(&ruleset.CreatedAt, &ruleset.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateName
		}
		return fmt.Errorf("failed to create ruleset: %w", err)
	}

	return nil
}

func (r *rulesetRepository) GetByID(ctx context.Context, orgID, rulesetID uuid.UUID) (*models.Ruleset, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := rulesetSelect + ` WHERE organization_id = $1 AND id = $2`

	row := scope.Conn.QueryRow(ctx, query, orgID, rulesetID)
	ruleset, err := scanRuleset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Ruleset not found
		}
		return nil, err
	}

	return ruleset, nil
}

func (r *rulesetRepository) GetByName(ctx context.Context, orgID uuid.UUID, name string) (*models.Ruleset, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := rulesetSelect + ` WHERE organization_id = $1 AND name = $2`

	row := scope.Conn.QueryRow(ctx, query, orgID, name)
	ruleset, err := scanRuleset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Ruleset not found
		}
		return nil, err
	}

	return ruleset, nil
}

func (r *rulesetRepository) List(ctx context.Context, orgID uuid.UUID, limit, offset int, nameFilter string) ([]*models.RulesetInfo, int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, 0, apperrors.ErrNoTenantScope
	}

	countQuery := `
		SELECT COUNT(*) FROM governance_rulesets
		WHERE organization_id = $1 AND ($2 = '' OR name ILIKE '%' || $2 || '%')`

	var total int
	if err := scope.Conn.QueryRow(ctx, countQuery, orgID, nameFilter).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count rulesets: %w", err)
	}

	// Ordering by creation time then id keeps pages stable across requests.
	query := `
		SELECT id, name, description, rule_type, artifact_type, rule_category,
		       documentation_link, provider, is_default, created_at, updated_at
		FROM governance_rulesets
		WHERE organization_id = $1 AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		ORDER BY created_at, id
		LIMIT $3 OFFSET $4`

	rows, err := scope.Conn.Query(ctx, query, orgID, nameFilter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query rulesets: %w", err)
	}
	defer rows.Close()

	var infos []*models.RulesetInfo
	for rows.Next() {
		var info models.RulesetInfo
		var description, documentationLink, provider *string
		if err := rows.Scan(
			&info.ID,
			&info.Name,
			&description,
			&info.RuleType,
			&info.ArtifactType,
			&info.RuleCategory,
			&documentationLink,
			&provider,
			&info.IsDefault,
			&info.CreatedAt,
			&info.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan ruleset info: %w", err)
		}
		if description != nil {
			info.Description = *description
		}
		if documentationLink != nil {
			info.DocumentationLink = *documentationLink
		}
		if provider != nil {
			info.Provider = *provider
		}
		infos = append(infos, &info)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating rulesets: %w", err)
	}

	return infos, total, nil
}

func (r *rulesetRepository) Update(ctx context.Context, ruleset *models.Ruleset) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	// Only mutable attributes are written; rule_type, artifact_type,
	// rule_category and provider are immutable after creation.
	query := `
		UPDATE governance_rulesets
		SET name = $3, description = $4, content = $5, documentation_link = $6,
		    updated_at = $7
		WHERE organization_id = $1 AND id = $2
		RETURNING updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		ruleset.OrganizationID,
		ruleset.ID,
		ruleset.Name,
		nullString(ruleset.Description),
		ruleset.Content,
		nullString(ruleset.DocumentationLink),
		time.Now(),
	).Scan(&ruleset.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateName
		}
		return fmt.Errorf("failed to update ruleset: %w", err)
	}

	return nil
}

func (r *rulesetRepository) Delete(ctx context.Context, orgID, rulesetID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the row so a concurrent policy attachment serializes against
	// this delete; the reference check below then sees the final state.
	var lockedID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM governance_rulesets WHERE organization_id = $1 AND id = $2 FOR UPDATE`,
		orgID, rulesetID,
	).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to lock ruleset for delete: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT policy_id FROM governance_policy_rulesets WHERE ruleset_id = $1`,
		rulesetID)
	if err != nil {
		return fmt.Errorf("failed to check policy references: %w", err)
	}

	var policyIDs []uuid.UUID
	for rows.Next() {
		var policyID uuid.UUID
		if err := rows.Scan(&policyID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan policy reference: %w", err)
		}
		policyIDs = append(policyIDs, policyID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating policy references: %w", err)
	}

	if len(policyIDs) > 0 {
		return &apperrors.RulesetInUseError{RulesetID: rulesetID, PolicyIDs: policyIDs}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM governance_rulesets WHERE organization_id = $1 AND id = $2`,
		orgID, rulesetID); err != nil {
		return fmt.Errorf("failed to delete ruleset: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}

func (r *rulesetRepository) SeedDefault(ctx context.Context, ruleset *models.Ruleset) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, apperrors.ErrNoTenantScope
	}

	if ruleset.ID == uuid.Nil {
		ruleset.ID = uuid.New()
	}
	now := time.Now()

	// The uniqueness constraint on (organization_id, name) makes seeding
	// idempotent and safe to race against itself.
	query := `
		INSERT INTO governance_rulesets (
			id, organization_id, name, description, content, rule_type,
			artifact_type, rule_category, documentation_link, provider,
			is_default, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $11)
		ON CONFLICT (organization_id, name) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		ruleset.ID,
		ruleset.OrganizationID,
		ruleset.Name,
		nullString(ruleset.Description),
		ruleset.Content,
		ruleset.RuleType,
		ruleset.ArtifactType,
		ruleset.RuleCategory,
		nullString(ruleset.DocumentationLink),
		nullString(ruleset.Provider),
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed default ruleset: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

const rulesetSelect = `
	SELECT id, organization_id, name, description, content, rule_type,
	       artifact_type, rule_category, documentation_link, provider,
	       is_default, created_at, updated_at
	FROM governance_rulesets`

func scanRuleset(row pgx.Row) (*models.Ruleset, error) {
	var rs models.Ruleset
	var description, documentationLink, provider *string
	var content []byte

	err := row.Scan(
		&rs.ID,
		&rs.OrganizationID,
		&rs.Name,
		&description,
		&content,
		&rs.RuleType,
		&rs.ArtifactType,
		&rs.RuleCategory,
		&documentationLink,
		&provider,
		&rs.IsDefault,
		&rs.CreatedAt,
		&rs.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan ruleset: %w", err)
	}

	if description != nil {
		rs.Description = *description
	}
	if documentationLink != nil {
		rs.DocumentationLink = *documentationLink
	}
	if provider != nil {
		rs.Provider = *provider
	}

	if len(content) > 0 {
		if err := json.Unmarshal(content, &rs.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ruleset content: %w", err)
		}
	}

	return &rs, nil
}

// nullString returns nil if the string is empty, otherwise returns the string pointer.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
