package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/apigovern/ruleset-engine/pkg/database"
)

// ScopedContext returns a context carrying a tenant scope for the given
// organization, mirroring what the tenant middleware does per request. The
// scope is released when the test finishes.
func ScopedContext(t *testing.T, db *database.DB, orgID uuid.UUID) context.Context {
	t.Helper()

	ctx := context.Background()
	scope, err := db.WithTenant(ctx, orgID)
	if err != nil {
		t.Fatalf("failed to acquire tenant scope: %v", err)
	}
	t.Cleanup(scope.Close)

	return database.SetTenantScope(ctx, scope)
}
