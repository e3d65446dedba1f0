package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apigovern/ruleset-engine/pkg/apperrors"
	"github.com/apigovern/ruleset-engine/pkg/auth"
	"github.com/apigovern/ruleset-engine/pkg/models"
	"github.com/apigovern/ruleset-engine/pkg/services"
	"github.com/apigovern/ruleset-engine/pkg/spectral"
	"github.com/apigovern/ruleset-engine/pkg/testhelpers"
)

// mockRulesetService implements services.RulesetService with configurable
// behavior per test.
type mockRulesetService struct {
	createFunc              func(ctx context.Context, orgID uuid.UUID, in *services.CreateRulesetInput) (*models.Ruleset, error)
	updateFunc              func(ctx context.Context, orgID, rulesetID uuid.UUID, in *services.UpdateRulesetInput) (*models.Ruleset, error)
	deleteFunc              func(ctx context.Context, orgID, rulesetID uuid.UUID) error
	getFunc                 func(ctx context.Context, orgID, rulesetID uuid.UUID) (*models.Ruleset, error)
	getContentFunc          func(ctx context.Context, orgID, rulesetID uuid.UUID) ([]byte, error)
	listFunc                func(ctx context.Context, orgID uuid.UUID, limit, offset int, nameFilter string) (*models.RulesetList, error)
	referencingPoliciesFunc func(ctx context.Context, orgID, rulesetID uuid.UUID) ([]*models.PolicyReference, error)
}

func (m *mockRulesetService) CreateRuleset(ctx context.Context, orgID uuid.UUID, in *services.CreateRulesetInput) (*models.Ruleset, error) {
	return m.createFunc(ctx, orgID, in)
}

func (m *mockRulesetService) UpdateRuleset(ctx context.Context, orgID, rulesetID uuid.UUID, in *services.UpdateRulesetInput) (*models.Ruleset, error) {
	return m.updateFunc(ctx, orgID, rulesetID, in)
}

func (m *mockRulesetService) DeleteRuleset(ctx context.Context, orgID, rulesetID uuid.UUID) error {
	return m.deleteFunc(ctx, orgID, rulesetID)
}

func (m *mockRulesetService) GetRuleset(ctx context.Context, orgID, rulesetID uuid.UUID) (*models.Ruleset, error) {
	return m.getFunc(ctx, orgID, rulesetID)
}

func (m *mockRulesetService) GetRulesetContent(ctx context.Context, orgID, rulesetID uuid.UUID) ([]byte, error) {
	return m.getContentFunc(ctx, orgID, rulesetID)
}

func (m *mockRulesetService) ListRulesets(ctx context.Context, orgID uuid.UUID, limit, offset int, nameFilter string) (*models.RulesetList, error) {
	return m.listFunc(ctx, orgID, limit, offset, nameFilter)
}

func (m *mockRulesetService) ReferencingPolicies(ctx context.Context, orgID, rulesetID uuid.UUID) ([]*models.PolicyReference, error) {
	return m.referencingPoliciesFunc(ctx, orgID, rulesetID)
}

var _ services.RulesetService = (*mockRulesetService)(nil)

// newTestMux wires the handler behind the real auth middleware (signature
// verification disabled) and a pass-through tenant middleware.
func newTestMux(t *testing.T, svc services.RulesetService) *http.ServeMux {
	t.Helper()

	logger := zap.NewNop()
	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{EnableVerification: false})
	require.NoError(t, err)

	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)
	passThrough := TenantMiddleware(func(next http.HandlerFunc) http.HandlerFunc { return next })

	mux := http.NewServeMux()
	NewRulesetHandler(svc, logger).RegisterRoutes(mux, authMiddleware, passThrough)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, req *http.Request, orgID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer("alice", orgID.String(), "alice@example.com"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeErrorDTO(t *testing.T, rec *httptest.ResponseRecorder) ErrorDTO {
	t.Helper()
	var dto ErrorDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	return dto
}

func sampleRuleset(orgID uuid.UUID) *models.Ruleset {
	return &models.Ruleset{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           "My Style Guide",
		Content:        map[string]any{"rules": map[string]any{}},
		RuleType:       models.RuleTypeAPIDefinition,
		ArtifactType:   models.ArtifactTypeRESTAPI,
		RuleCategory:   models.RuleCategorySpectral,
	}
}

func TestListRulesets_HTTP(t *testing.T) {
	orgID := uuid.New()

	svc := &mockRulesetService{
		listFunc: func(ctx context.Context, gotOrg uuid.UUID, limit, offset int, nameFilter string) (*models.RulesetList, error) {
			assert.Equal(t, orgID, gotOrg)
			assert.Equal(t, 10, limit)
			assert.Equal(t, 5, offset)
			assert.Equal(t, "owasp", nameFilter)
			return &models.RulesetList{
				Count: 1,
				List:  []*models.RulesetInfo{sampleRuleset(orgID).Info()},
			}, nil
		},
	}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodGet,
		"/api/governance/rulesets?limit=10&offset=5&query=owasp", nil)
	rec := doRequest(t, mux, req, orgID)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var list models.RulesetList
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.List, 1)
	assert.Equal(t, "My Style Guide", list.List[0].Name)
}

func TestCreateRuleset_JSON(t *testing.T) {
	orgID := uuid.New()

	svc := &mockRulesetService{
		createFunc: func(ctx context.Context, gotOrg uuid.UUID, in *services.CreateRulesetInput) (*models.Ruleset, error) {
			assert.Equal(t, orgID, gotOrg)
			assert.Equal(t, "My Style Guide", in.Name)
			assert.Equal(t, spectral.FormatYAML, in.ContentFormat)
			assert.Equal(t, "alice", in.Provider, "provider should default to the token subject")

			r := sampleRuleset(orgID)
			r.Name = in.Name
			r.Provider = in.Provider
			return r, nil
		},
	}
	mux := newTestMux(t, svc)

	body, _ := json.Marshal(RulesetRequest{
		Name:         "My Style Guide",
		Content:      "rules:\n  my-rule:\n    given: $.paths\n    then:\n      function: truthy\n",
		RuleType:     models.RuleTypeAPIDefinition,
		ArtifactType: models.ArtifactTypeRESTAPI,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/governance/rulesets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(t, mux, req, orgID)

	require.Equal(t, http.StatusCreated, rec.Code)

	var info models.RulesetInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "My Style Guide", info.Name)
	assert.Equal(t, "alice", info.Provider)
}

func TestCreateRuleset_Multipart(t *testing.T) {
	orgID := uuid.New()
	fileContent := `{"rules":{"my-rule":{"given":"$.paths","then":{"function":"truthy"}}}}`

	svc := &mockRulesetService{
		createFunc: func(ctx context.Context, gotOrg uuid.UUID, in *services.CreateRulesetInput) (*models.Ruleset, error) {
			assert.Equal(t, "Uploaded Guide", in.Name)
			assert.Equal(t, fileContent, string(in.Content))
			assert.Equal(t, spectral.FormatJSON, in.ContentFormat, "format should come from the filename")
			return sampleRuleset(orgID), nil
		},
	}
	mux := newTestMux(t, svc)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("rulesetContent", "ruleset.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(fileContent))
	require.NoError(t, err)
	require.NoError(t, form.WriteField("name", "Uploaded Guide"))
	require.NoError(t, form.WriteField("ruleType", models.RuleTypeAPIDefinition))
	require.NoError(t, form.WriteField("artifactType", models.ArtifactTypeRESTAPI))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/governance/rulesets", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := doRequest(t, mux, req, orgID)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateRuleset_MultipartMissingFile(t *testing.T) {
	svc := &mockRulesetService{}
	mux := newTestMux(t, svc)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("name", "No File"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/governance/rulesets", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := doRequest(t, mux, req, uuid.New())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRuleset_InvalidContentCode(t *testing.T) {
	svc := &mockRulesetService{
		createFunc: func(ctx context.Context, orgID uuid.UUID, in *services.CreateRulesetInput) (*models.Ruleset, error) {
			return nil, &apperrors.ContentError{
				Reason:  "schema validation failed",
				Details: []string{`missing required key "rules"`},
			}
		},
	}
	mux := newTestMux(t, svc)

	body, _ := json.Marshal(RulesetRequest{
		Name:         "Broken",
		Content:      "{}",
		RuleType:     models.RuleTypeAPIDefinition,
		ArtifactType: models.ArtifactTypeRESTAPI,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/governance/rulesets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(t, mux, req, uuid.New())

	require.Equal(t, http.StatusBadRequest, rec.Code)

	dto := decodeErrorDTO(t, rec)
	assert.Equal(t, apperrors.CodeContentInvalid, dto.Code)
	assert.Equal(t, "RULESET_CONTENT_INVALID", dto.Message)
	assert.Contains(t, dto.Description, `missing required key "rules"`)
}

func TestCreateRuleset_DuplicateNameCode(t *testing.T) {
	svc := &mockRulesetService{
		createFunc: func(ctx context.Context, orgID uuid.UUID, in *services.CreateRulesetInput) (*models.Ruleset, error) {
			return nil, apperrors.ErrDuplicateName
		},
	}
	mux := newTestMux(t, svc)

	body, _ := json.Marshal(RulesetRequest{
		Name:         "Taken",
		Content:      "rules: {}",
		RuleType:     models.RuleTypeAPIDefinition,
		ArtifactType: models.ArtifactTypeRESTAPI,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/governance/rulesets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(t, mux, req, uuid.New())

	require.Equal(t, http.StatusConflict, rec.Code)

	dto := decodeErrorDTO(t, rec)
	assert.Equal(t, apperrors.CodeRulesetAlreadyExists, dto.Code)
	assert.Equal(t, "RULESET_ALREADY_EXISTS", dto.Message)
}

func TestGetRuleset_NotFoundCode(t *testing.T) {
	svc := &mockRulesetService{
		getFunc: func(ctx context.Context, orgID, rulesetID uuid.UUID) (*models.Ruleset, error) {
			return nil, apperrors.ErrNotFound
		},
	}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/governance/rulesets/"+uuid.NewString(), nil)
	rec := doRequest(t, mux, req, uuid.New())

	require.Equal(t, http.StatusNotFound, rec.Code)

	dto := decodeErrorDTO(t, rec)
	assert.Equal(t, apperrors.CodeRulesetNotFound, dto.Code)
	assert.Equal(t, "RULESET_NOT_FOUND", dto.Message)
}

func TestGetRuleset_MalformedID(t *testing.T) {
	svc := &mockRulesetService{
		getFunc: func(ctx context.Context, orgID, rulesetID uuid.UUID) (*models.Ruleset, error) {
			t.Fatal("service must not be called for a malformed id")
			return nil, nil
		},
	}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/governance/rulesets/not-a-uuid", nil)
	rec := doRequest(t, mux, req, uuid.New())

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeRulesetNotFound, decodeErrorDTO(t, rec).Code)
}

func TestGetRulesetContent_HTTP(t *testing.T) {
	content := "rules:\n  my-rule:\n    given: $.paths\n    then:\n      function: truthy\n"

	svc := &mockRulesetService{
		getContentFunc: func(ctx context.Context, orgID, rulesetID uuid.UUID) ([]byte, error) {
			return []byte(content), nil
		},
	}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodGet,
		"/api/governance/rulesets/"+uuid.NewString()+"/content", nil)
	rec := doRequest(t, mux, req, uuid.New())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, content, rec.Body.String())
}

func TestUpdateRuleset_HTTP(t *testing.T) {
	orgID := uuid.New()
	rulesetID := uuid.New()

	svc := &mockRulesetService{
		updateFunc: func(ctx context.Context, gotOrg, gotID uuid.UUID, in *services.UpdateRulesetInput) (*models.Ruleset, error) {
			assert.Equal(t, rulesetID, gotID)
			assert.Equal(t, "Renamed", in.Name)
			assert.Equal(t, "updated", in.Description)

			r := sampleRuleset(orgID)
			r.ID = gotID
			r.Name = in.Name
			r.Description = in.Description
			return r, nil
		},
	}
	mux := newTestMux(t, svc)

	body, _ := json.Marshal(RulesetRequest{
		Name:        "Renamed",
		Description: "updated",
		Content:     "rules: {}",
	})
	req := httptest.NewRequest(http.MethodPut,
		"/api/governance/rulesets/"+rulesetID.String(), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(t, mux, req, orgID)

	require.Equal(t, http.StatusOK, rec.Code)

	var info models.RulesetInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "Renamed", info.Name)
}

func TestDeleteRuleset_HTTP(t *testing.T) {
	svc := &mockRulesetService{
		deleteFunc: func(ctx context.Context, orgID, rulesetID uuid.UUID) error {
			return nil
		},
	}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/governance/rulesets/"+uuid.NewString(), nil)
	rec := doRequest(t, mux, req, uuid.New())

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDeleteRuleset_InUseCode(t *testing.T) {
	rulesetID := uuid.New()

	svc := &mockRulesetService{
		deleteFunc: func(ctx context.Context, orgID, gotID uuid.UUID) error {
			return &apperrors.RulesetInUseError{
				RulesetID: gotID,
				PolicyIDs: []uuid.UUID{uuid.New()},
			}
		},
	}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/governance/rulesets/"+rulesetID.String(), nil)
	rec := doRequest(t, mux, req, uuid.New())

	require.Equal(t, http.StatusConflict, rec.Code)

	dto := decodeErrorDTO(t, rec)
	assert.Equal(t, apperrors.CodeRulesetInUse, dto.Code)
	assert.Equal(t, "RULESET_IN_USE", dto.Message)
	assert.Contains(t, dto.Description, rulesetID.String())
}

func TestListPolicies_HTTP(t *testing.T) {
	svc := &mockRulesetService{
		referencingPoliciesFunc: func(ctx context.Context, orgID, rulesetID uuid.UUID) ([]*models.PolicyReference, error) {
			return []*models.PolicyReference{
				{PolicyID: uuid.New(), PolicyName: "prod-governance"},
			}, nil
		},
	}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodGet,
		"/api/governance/rulesets/"+uuid.NewString()+"/policies", nil)
	rec := doRequest(t, mux, req, uuid.New())

	require.Equal(t, http.StatusOK, rec.Code)

	var resp PolicyReferenceListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.List, 1)
	assert.Equal(t, "prod-governance", resp.List[0].PolicyName)
}

func TestRulesetRoutes_RequireAuth(t *testing.T) {
	mux := newTestMux(t, &mockRulesetService{})

	req := httptest.NewRequest(http.MethodGet, "/api/governance/rulesets", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRulesetRoutes_RequireOrganizationClaim(t *testing.T) {
	mux := newTestMux(t, &mockRulesetService{})

	req := httptest.NewRequest(http.MethodGet, "/api/governance/rulesets", nil)
	req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer("alice", "", ""))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRuleset_InvalidJSONBody(t *testing.T) {
	mux := newTestMux(t, &mockRulesetService{})

	req := httptest.NewRequest(http.MethodPost, "/api/governance/rulesets",
		strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(t, mux, req, uuid.New())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
