package policy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPolicyRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(NewEngine(NewMemoryStore()))
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPolicyEndpointsCRUD(t *testing.T) {
	r := setupPolicyRouter()

	w := doJSON(t, r, http.MethodPost, "/v1/policies", denyOver("api-test", "100"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/v1/policies/api-test", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got Policy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, EffectDeny, got.Effect)

	got.Description = "changed"
	w = doJSON(t, r, http.MethodPut, "/v1/policies/api-test", got)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/v1/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doJSON(t, r, http.MethodDelete, "/v1/policies/api-test", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/policies/api-test", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPolicyEndpointRejectsInvalid(t *testing.T) {
	r := setupPolicyRouter()

	w := doJSON(t, r, http.MethodPost, "/v1/policies", Policy{
		ID: "bad", Name: "bad", AppliesTo: []string{"transfer"}, Effect: "explode",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

func TestEvaluateEndpoint(t *testing.T) {
	r := setupPolicyRouter()
	w := doJSON(t, r, http.MethodPost, "/v1/policies", denyOver("deny-big", "1000"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/evaluate", transferCtx("5000"))
	require.Equal(t, http.StatusOK, w.Code)
	var d Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.False(t, d.Allowed)
	assert.Equal(t, "deny-big", d.DenyingPolicy)

	w = doJSON(t, r, http.MethodPost, "/v1/evaluate/batch", []*Context{
		transferCtx("10"), transferCtx("5000"),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var batch BatchDecision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	assert.False(t, batch.Allowed)
	assert.Len(t, batch.Decisions, 2)
}

func TestBlacklistEndpoints(t *testing.T) {
	r := setupPolicyRouter()
	addr := "0xBAD0000000000000000000000000000000000bad"

	w := doJSON(t, r, http.MethodPost, "/v1/policy-blacklist", BlacklistRequest{Address: addr, Reason: "test"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/policy-blacklist/"+addr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"blacklisted":true`)

	w = doJSON(t, r, http.MethodGet, "/v1/policy-blacklist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doJSON(t, r, http.MethodDelete, "/v1/policy-blacklist/"+addr, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/policy-blacklist/"+addr, nil)
	assert.Contains(t, w.Body.String(), `"blacklisted":false`)
}
