//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apigovern/ruleset-engine/pkg/apperrors"
	"github.com/apigovern/ruleset-engine/pkg/models"
	"github.com/apigovern/ruleset-engine/pkg/testhelpers"
)

func testRuleset(orgID uuid.UUID, name string) *models.Ruleset {
	return &models.Ruleset{
		OrganizationID: orgID,
		Name:           name,
		Description:    "integration fixture",
		Content: map[string]any{
			"rules": map[string]any{
				"info-title": map[string]any{
					"given": "$.info.title",
					"then":  map[string]any{"function": "truthy"},
				},
			},
		},
		RuleType:     models.RuleTypeAPIDefinition,
		ArtifactType: models.ArtifactTypeRESTAPI,
		RuleCategory: models.RuleCategorySpectral,
		Provider:     "integration-test",
	}
}

// attachPolicy inserts a policy referencing the ruleset, simulating what the
// policy engine does when a ruleset is attached to a governance policy.
func attachPolicy(t *testing.T, ctx context.Context, orgID, rulesetID uuid.UUID, name string) uuid.UUID {
	t.Helper()

	testDB := testhelpers.GetTestDB(t)
	policyID := uuid.New()

	_, err := testDB.DB.Pool.Exec(ctx,
		`INSERT INTO governance_policies (id, organization_id, name) VALUES ($1, $2, $3)`,
		policyID, orgID, name)
	require.NoError(t, err)

	_, err = testDB.DB.Pool.Exec(ctx,
		`INSERT INTO governance_policy_rulesets (policy_id, ruleset_id, organization_id)
		 VALUES ($1, $2, $3)`,
		policyID, rulesetID, orgID)
	require.NoError(t, err)

	return policyID
}

func TestRulesetRepository_CreateAndGet(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	ruleset := testRuleset(orgID, "Create And Get")
	require.NoError(t, repo.Create(ctx, ruleset))
	assert.NotEqual(t, uuid.Nil, ruleset.ID)
	assert.False(t, ruleset.CreatedAt.IsZero())

	byID, err := repo.GetByID(ctx, orgID, ruleset.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, ruleset.Name, byID.Name)
	assert.Equal(t, ruleset.Content, byID.Content)
	assert.Equal(t, "integration-test", byID.Provider)

	byName, err := repo.GetByName(ctx, orgID, "Create And Get")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, ruleset.ID, byName.ID)
}

func TestRulesetRepository_GetMissingReturnsNil(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	ruleset, err := repo.GetByID(ctx, orgID, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, ruleset)
}

func TestRulesetRepository_DuplicateName(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	require.NoError(t, repo.Create(ctx, testRuleset(orgID, "Unique Name")))

	err := repo.Create(ctx, testRuleset(orgID, "Unique Name"))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateName)
}

func TestRulesetRepository_SameNameAcrossOrganizations(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgA := uuid.New()
	orgB := uuid.New()
	repo := NewRulesetRepository()

	ctxA := testhelpers.ScopedContext(t, testDB.DB, orgA)
	require.NoError(t, repo.Create(ctxA, testRuleset(orgA, "Shared Name")))

	ctxB := testhelpers.ScopedContext(t, testDB.DB, orgB)
	assert.NoError(t, repo.Create(ctxB, testRuleset(orgB, "Shared Name")))
}

func TestRulesetRepository_TenantIsolation(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgA := uuid.New()
	orgB := uuid.New()
	repo := NewRulesetRepository()

	ctxA := testhelpers.ScopedContext(t, testDB.DB, orgA)
	ruleset := testRuleset(orgA, "Org A Only")
	require.NoError(t, repo.Create(ctxA, ruleset))

	ctxB := testhelpers.ScopedContext(t, testDB.DB, orgB)
	got, err := repo.GetByID(ctxB, orgB, ruleset.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "ruleset must not be visible from another organization")
}

func TestRulesetRepository_ListPaginationAndFilter(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, testRuleset(orgID, fmt.Sprintf("Style Guide %d", i))))
	}
	require.NoError(t, repo.Create(ctx, testRuleset(orgID, "Security Baseline")))

	infos, total, err := repo.List(ctx, orgID, 4, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, infos, 4)

	infos, total, err = repo.List(ctx, orgID, 4, 4, "")
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, infos, 2)

	// Filter is a case-insensitive substring match.
	infos, total, err = repo.List(ctx, orgID, 25, 0, "security")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, infos, 1)
	assert.Equal(t, "Security Baseline", infos[0].Name)
}

func TestRulesetRepository_Update(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	ruleset := testRuleset(orgID, "Before Update")
	require.NoError(t, repo.Create(ctx, ruleset))

	ruleset.Name = "After Update"
	ruleset.Description = "changed"
	ruleset.Content = map[string]any{
		"rules": map[string]any{
			"new-rule": map[string]any{
				"given": "$.paths",
				"then":  map[string]any{"function": "truthy"},
			},
		},
	}
	require.NoError(t, repo.Update(ctx, ruleset))

	got, err := repo.GetByID(ctx, orgID, ruleset.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "After Update", got.Name)
	assert.Equal(t, "changed", got.Description)
	assert.Contains(t, got.Content["rules"], "new-rule")
}

func TestRulesetRepository_UpdateToDuplicateName(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	require.NoError(t, repo.Create(ctx, testRuleset(orgID, "Taken")))
	second := testRuleset(orgID, "Free")
	require.NoError(t, repo.Create(ctx, second))

	second.Name = "Taken"
	assert.ErrorIs(t, repo.Update(ctx, second), apperrors.ErrDuplicateName)
}

func TestRulesetRepository_UpdateMissing(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	missing := testRuleset(orgID, "Ghost")
	missing.ID = uuid.New()
	assert.ErrorIs(t, repo.Update(ctx, missing), apperrors.ErrNotFound)
}

func TestRulesetRepository_Delete(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	ruleset := testRuleset(orgID, "Delete Me")
	require.NoError(t, repo.Create(ctx, ruleset))

	require.NoError(t, repo.Delete(ctx, orgID, ruleset.ID))

	got, err := repo.GetByID(ctx, orgID, ruleset.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRulesetRepository_DeleteMissing(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	assert.ErrorIs(t, repo.Delete(ctx, orgID, uuid.New()), apperrors.ErrNotFound)
}

func TestRulesetRepository_DeleteReferencedByPolicy(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	ruleset := testRuleset(orgID, "Attached Ruleset")
	require.NoError(t, repo.Create(ctx, ruleset))
	policyID := attachPolicy(t, ctx, orgID, ruleset.ID, "attached-policy")

	err := repo.Delete(ctx, orgID, ruleset.ID)
	require.Error(t, err)

	var inUse *apperrors.RulesetInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, ruleset.ID, inUse.RulesetID)
	assert.Equal(t, []uuid.UUID{policyID}, inUse.PolicyIDs)

	// The ruleset must survive the rejected delete.
	got, err := repo.GetByID(ctx, orgID, ruleset.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRulesetRepository_SeedDefaultIdempotent(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	seed := testRuleset(orgID, "Built-In Guide")
	seed.IsDefault = true

	inserted, err := repo.SeedDefault(ctx, seed)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := testRuleset(orgID, "Built-In Guide")
	again.IsDefault = true
	inserted, err = repo.SeedDefault(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted, "second seed of the same name must be a no-op")

	_, total, err := repo.List(ctx, orgID, 25, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRulesetRepository_SeedDefaultSkipsUserRulesetWithSameName(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	repo := NewRulesetRepository()

	user := testRuleset(orgID, "Claimed Name")
	require.NoError(t, repo.Create(ctx, user))

	seed := testRuleset(orgID, "Claimed Name")
	seed.IsDefault = true
	inserted, err := repo.SeedDefault(ctx, seed)
	require.NoError(t, err)
	assert.False(t, inserted)

	// The user's ruleset wins the name.
	got, err := repo.GetByName(ctx, orgID, "Claimed Name")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)
	assert.False(t, got.IsDefault)
}

func TestPolicyReferenceRepository(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	orgID := uuid.New()
	ctx := testhelpers.ScopedContext(t, testDB.DB, orgID)
	rulesets := NewRulesetRepository()
	refs := NewPolicyReferenceRepository()

	ruleset := testRuleset(orgID, "Referenced Ruleset")
	require.NoError(t, rulesets.Create(ctx, ruleset))

	referenced, err := refs.IsReferenced(ctx, ruleset.ID)
	require.NoError(t, err)
	assert.False(t, referenced)

	policyID := attachPolicy(t, ctx, orgID, ruleset.ID, "ref-policy")

	referenced, err = refs.IsReferenced(ctx, ruleset.ID)
	require.NoError(t, err)
	assert.True(t, referenced)

	policies, err := refs.ReferencingPolicies(ctx, ruleset.ID)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, policyID, policies[0].PolicyID)
	assert.Equal(t, "ref-policy", policies[0].PolicyName)
	assert.False(t, policies[0].AttachedAt.IsZero())
}
