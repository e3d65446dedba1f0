package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/apigovern/ruleset-engine/pkg/apperrors"
	"github.com/apigovern/ruleset-engine/pkg/auth"
	"github.com/apigovern/ruleset-engine/pkg/models"
	"github.com/apigovern/ruleset-engine/pkg/services"
	"github.com/apigovern/ruleset-engine/pkg/spectral"
)

// maxContentSize bounds uploaded ruleset content (1 MiB).
const maxContentSize = 1 << 20

// rulesetContentField is the multipart form field carrying the content file.
const rulesetContentField = "rulesetContent"

// ============================================================================
// Request/Response Types
// ============================================================================

// RulesetRequest is the JSON body accepted by create and update when the
// client sends inline content instead of a multipart file.
type RulesetRequest struct {
	Name              string `json:"name"`
	Content           string `json:"content"`
	ContentFormat     string `json:"contentFormat,omitempty"`
	RuleType          string `json:"ruleType"`
	ArtifactType      string `json:"artifactType"`
	RuleCategory      string `json:"ruleCategory,omitempty"`
	Description       string `json:"description,omitempty"`
	DocumentationLink string `json:"documentationLink,omitempty"`
	Provider          string `json:"provider,omitempty"`
}

// PolicyReferenceListResponse for GET /rulesets/{rid}/policies
type PolicyReferenceListResponse struct {
	Count int                       `json:"count"`
	List  []*models.PolicyReference `json:"list"`
}

// ============================================================================
// Handler
// ============================================================================

// RulesetHandler handles governance ruleset HTTP requests.
type RulesetHandler struct {
	rulesetService services.RulesetService
	logger         *zap.Logger
}

// NewRulesetHandler creates a new ruleset handler.
func NewRulesetHandler(rulesetService services.RulesetService, logger *zap.Logger) *RulesetHandler {
	return &RulesetHandler{
		rulesetService: rulesetService,
		logger:         logger,
	}
}

// TenantMiddleware wraps a handler with an organization-scoped DB connection.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// RegisterRoutes registers the ruleset handler's routes on the given mux.
func (h *RulesetHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/governance/rulesets"

	mux.HandleFunc("GET "+base,
		authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("POST "+base,
		authMiddleware.RequireAuth(tenantMiddleware(h.Create)))
	mux.HandleFunc("GET "+base+"/{rid}",
		authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
	mux.HandleFunc("GET "+base+"/{rid}/content",
		authMiddleware.RequireAuth(tenantMiddleware(h.GetContent)))
	mux.HandleFunc("GET "+base+"/{rid}/policies",
		authMiddleware.RequireAuth(tenantMiddleware(h.ListPolicies)))
	mux.HandleFunc("PUT "+base+"/{rid}",
		authMiddleware.RequireAuth(tenantMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{rid}",
		authMiddleware.RequireAuth(tenantMiddleware(h.Delete)))
}

// List handles GET /api/governance/rulesets
func (h *RulesetHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.RequireOrganizationIDFromContext(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list rulesets")
		return
	}

	limit, offset := ParsePagination(r, services.DefaultListLimit)
	nameFilter := r.URL.Query().Get("query")

	list, err := h.rulesetService.ListRulesets(r.Context(), orgID, limit, offset, nameFilter)
	if err != nil {
		h.logger.Error("Failed to list rulesets",
			zap.String("organization_id", orgID.String()),
			zap.Error(err))
		h.writeServiceError(w, err, "list rulesets")
		return
	}

	if err := WriteJSON(w, http.StatusOK, list); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/governance/rulesets
func (h *RulesetHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.RequireOrganizationIDFromContext(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "create ruleset")
		return
	}

	in, ok := h.decodeCreateRequest(w, r)
	if !ok {
		return
	}

	if in.Provider == "" {
		in.Provider = auth.GetProviderFromContext(r.Context())
	}

	ruleset, err := h.rulesetService.CreateRuleset(r.Context(), orgID, in)
	if err != nil {
		h.logger.Error("Failed to create ruleset",
			zap.String("organization_id", orgID.String()),
			zap.String("name", in.Name),
			zap.Error(err))
		h.writeServiceError(w, err, "create ruleset")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ruleset.Info()); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/governance/rulesets/{rid}
func (h *RulesetHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.RequireOrganizationIDFromContext(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "get ruleset")
		return
	}

	rulesetID, ok := ParseRulesetID(w, r, h.logger)
	if !ok {
		return
	}

	ruleset, err := h.rulesetService.GetRuleset(r.Context(), orgID, rulesetID)
	if err != nil {
		h.writeServiceError(w, err, "get ruleset")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ruleset.Info()); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetContent handles GET /api/governance/rulesets/{rid}/content
func (h *RulesetHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.RequireOrganizationIDFromContext(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "get ruleset content")
		return
	}

	rulesetID, ok := ParseRulesetID(w, r, h.logger)
	if !ok {
		return
	}

	content, err := h.rulesetService.GetRulesetContent(r.Context(), orgID, rulesetID)
	if err != nil {
		h.writeServiceError(w, err, "get ruleset content")
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="ruleset.yaml"`)
	if _, err := w.Write(content); err != nil {
		h.logger.Error("Failed to write content response", zap.Error(err))
	}
}

// ListPolicies handles GET /api/governance/rulesets/{rid}/policies
func (h *RulesetHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.RequireOrganizationIDFromContext(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list referencing policies")
		return
	}

	rulesetID, ok := ParseRulesetID(w, r, h.logger)
	if !ok {
		return
	}

	refs, err := h.rulesetService.ReferencingPolicies(r.Context(), orgID, rulesetID)
	if err != nil {
		h.writeServiceError(w, err, "list referencing policies")
		return
	}

	response := PolicyReferenceListResponse{Count: len(refs), List: refs}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/governance/rulesets/{rid}
func (h *RulesetHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.RequireOrganizationIDFromContext(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "update ruleset")
		return
	}

	rulesetID, ok := ParseRulesetID(w, r, h.logger)
	if !ok {
		return
	}

	in, ok := h.decodeUpdateRequest(w, r)
	if !ok {
		return
	}

	ruleset, err := h.rulesetService.UpdateRuleset(r.Context(), orgID, rulesetID, in)
	if err != nil {
		h.logger.Error("Failed to update ruleset",
			zap.String("organization_id", orgID.String()),
			zap.String("ruleset_id", rulesetID.String()),
			zap.Error(err))
		h.writeServiceError(w, err, "update ruleset")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ruleset.Info()); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/governance/rulesets/{rid}
func (h *RulesetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.RequireOrganizationIDFromContext(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "delete ruleset")
		return
	}

	rulesetID, ok := ParseRulesetID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.rulesetService.DeleteRuleset(r.Context(), orgID, rulesetID); err != nil {
		h.logger.Warn("Failed to delete ruleset",
			zap.String("organization_id", orgID.String()),
			zap.String("ruleset_id", rulesetID.String()),
			zap.Error(err))
		h.writeServiceError(w, err, "delete ruleset")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Request decoding
// ============================================================================

// decodeCreateRequest reads either a multipart form with a content file or a
// JSON body with inline content. Both converge on the same service input.
func (h *RulesetHandler) decodeCreateRequest(w http.ResponseWriter, r *http.Request) (*services.CreateRulesetInput, bool) {
	if isMultipart(r) {
		return h.decodeMultipartCreate(w, r)
	}

	var req RulesetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContentSize)).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return nil, false
	}

	return &services.CreateRulesetInput{
		Name:              req.Name,
		Content:           []byte(req.Content),
		ContentFormat:     resolveFormat(req.ContentFormat),
		RuleType:          req.RuleType,
		ArtifactType:      req.ArtifactType,
		RuleCategory:      req.RuleCategory,
		Description:       req.Description,
		DocumentationLink: req.DocumentationLink,
		Provider:          req.Provider,
	}, true
}

func (h *RulesetHandler) decodeMultipartCreate(w http.ResponseWriter, r *http.Request) (*services.CreateRulesetInput, bool) {
	content, format, ok := h.readContentFile(w, r, true)
	if !ok {
		return nil, false
	}

	return &services.CreateRulesetInput{
		Name:              r.FormValue("name"),
		Content:           content,
		ContentFormat:     format,
		RuleType:          r.FormValue("ruleType"),
		ArtifactType:      r.FormValue("artifactType"),
		RuleCategory:      r.FormValue("ruleCategory"),
		Description:       r.FormValue("description"),
		DocumentationLink: r.FormValue("documentationLink"),
		Provider:          r.FormValue("provider"),
	}, true
}

func (h *RulesetHandler) decodeUpdateRequest(w http.ResponseWriter, r *http.Request) (*services.UpdateRulesetInput, bool) {
	if isMultipart(r) {
		// Content file is optional on update; metadata-only updates skip
		// re-validation of the stored content.
		content, format, ok := h.readContentFile(w, r, false)
		if !ok {
			return nil, false
		}
		return &services.UpdateRulesetInput{
			Name:              r.FormValue("name"),
			Content:           content,
			ContentFormat:     format,
			Description:       r.FormValue("description"),
			DocumentationLink: r.FormValue("documentationLink"),
		}, true
	}

	var req RulesetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContentSize)).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return nil, false
	}

	return &services.UpdateRulesetInput{
		Name:              req.Name,
		Content:           []byte(req.Content),
		ContentFormat:     resolveFormat(req.ContentFormat),
		Description:       req.Description,
		DocumentationLink: req.DocumentationLink,
	}, true
}

// readContentFile extracts the uploaded ruleset content from the multipart
// form. When required is false a missing file part is not an error.
func (h *RulesetHandler) readContentFile(w http.ResponseWriter, r *http.Request, required bool) ([]byte, spectral.Format, bool) {
	if err := r.ParseMultipartForm(maxContentSize); err != nil {
		h.badRequest(w, "Invalid multipart form")
		return nil, spectral.FormatYAML, false
	}

	file, header, err := r.FormFile(rulesetContentField)
	if err != nil {
		if !required {
			return nil, spectral.FormatYAML, true
		}
		h.badRequest(w, "Missing ruleset content file")
		return nil, spectral.FormatYAML, false
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxContentSize))
	if err != nil {
		h.badRequest(w, "Failed to read ruleset content")
		return nil, spectral.FormatYAML, false
	}

	format := spectral.DetectFormat(header.Filename, header.Header.Get("Content-Type"))
	return content, format, true
}

func isMultipart(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	return len(contentType) >= 19 && contentType[:19] == "multipart/form-data"
}

func resolveFormat(declared string) spectral.Format {
	if declared == string(spectral.FormatJSON) {
		return spectral.FormatJSON
	}
	return spectral.FormatYAML
}

// ============================================================================
// Error mapping
// ============================================================================

// writeServiceError translates service errors into the external error
// taxonomy. Each error kind maps 1:1 to a stable numeric code.
func (h *RulesetHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	var contentErr *apperrors.ContentError
	if errors.As(err, &contentErr) {
		h.write(w, http.StatusBadRequest, apperrors.CodeContentInvalid,
			"RULESET_CONTENT_INVALID", contentErr.Error())
		return
	}

	var inUseErr *apperrors.RulesetInUseError
	if errors.As(err, &inUseErr) {
		h.write(w, http.StatusConflict, apperrors.CodeRulesetInUse,
			"RULESET_IN_USE", inUseErr.Error())
		return
	}

	if errors.Is(err, apperrors.ErrDuplicateName) {
		h.write(w, http.StatusConflict, apperrors.CodeRulesetAlreadyExists,
			"RULESET_ALREADY_EXISTS", "A ruleset with this name already exists in the organization")
		return
	}

	if errors.Is(err, apperrors.ErrNotFound) {
		h.write(w, http.StatusNotFound, apperrors.CodeRulesetNotFound,
			"RULESET_NOT_FOUND", "Ruleset not found")
		return
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		h.badRequest(w, err.Error())
		return
	}

	if err := WriteError(w, http.StatusInternalServerError, http.StatusInternalServerError,
		"INTERNAL_SERVER_ERROR", "Failed to "+op); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *RulesetHandler) write(w http.ResponseWriter, status int, code int64, message, description string) {
	if err := WriteError(w, status, code, message, description); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *RulesetHandler) badRequest(w http.ResponseWriter, description string) {
	h.write(w, http.StatusBadRequest, http.StatusBadRequest, "BAD_REQUEST", description)
}
