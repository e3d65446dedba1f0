package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/apigovern/ruleset-engine/pkg/auth"
	"github.com/apigovern/ruleset-engine/pkg/services"
)

// OrganizationHandler handles organization provisioning requests.
type OrganizationHandler struct {
	seeder *services.DefaultRulesetSeeder
	logger *zap.Logger
}

// NewOrganizationHandler creates a new organization handler.
func NewOrganizationHandler(seeder *services.DefaultRulesetSeeder, logger *zap.Logger) *OrganizationHandler {
	return &OrganizationHandler{seeder: seeder, logger: logger}
}

// RegisterRoutes registers the organization handler's routes on the given mux.
func (h *OrganizationHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("POST /api/governance/organizations/provision",
		authMiddleware.RequireAuth(tenantMiddleware(h.Provision)))
}

// Provision handles POST /api/governance/organizations/provision
// It seeds the built-in default rulesets for the caller's organization.
// The operation is idempotent; repeated calls never create duplicates.
func (h *OrganizationHandler) Provision(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.RequireOrganizationIDFromContext(r.Context())
	if err != nil {
		if err := WriteError(w, http.StatusUnauthorized, http.StatusUnauthorized,
			"UNAUTHORIZED", "Organization context required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.seeder.EnsureDefaults(r.Context(), orgID); err != nil {
		h.logger.Error("Failed to provision default rulesets",
			zap.String("organization_id", orgID.String()),
			zap.Error(err))
		if err := WriteError(w, http.StatusInternalServerError, http.StatusInternalServerError,
			"INTERNAL_SERVER_ERROR", "Failed to provision default rulesets"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
