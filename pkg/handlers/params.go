package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apigovern/ruleset-engine/pkg/apperrors"
)

// ParseRulesetID extracts and validates the ruleset ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: rid
func ParseRulesetID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue("rid")
	id, err := uuid.Parse(idStr)
	if err != nil {
		// An unparseable id can never name an existing ruleset.
		if err := WriteError(w, http.StatusNotFound, apperrors.CodeRulesetNotFound,
			"RULESET_NOT_FOUND", "Invalid ruleset ID format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// ParsePagination extracts limit and offset query parameters, falling back to
// the given defaults when absent or unparseable.
func ParsePagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	return limit, offset
}
