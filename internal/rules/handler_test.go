package rules

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(repo Repository) http.Handler {
	r := chi.NewRouter()
	NewHandler(NewService(repo, nil, nil)).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ConfigRoundTrip(t *testing.T) {
	h := newTestRouter(newFakeRepo())
	body := `{"filters":[{"processDefinitionKey":"2251799813685249"}],"channel":{"type":"email","value":"ops@example.com"}}`

	rec := do(t, h, http.MethodPost, "/alerts/config", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/alerts/rules/rule-1", rec.Header().Get("Location"))
	assert.JSONEq(t, body, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/alerts/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "["+body+"]", rec.Body.String())
}

func TestHandler_ConfigRoundTrip_ScalarValues(t *testing.T) {
	h := newTestRouter(newFakeRepo())
	body := `{"filters":[{"processDefinitionKey":2251799813685249},{"processInstanceKey":9007199254740993123,"state":"ACTIVE"}],"channel":{"type":"webhook","value":"https://hooks.example.com/a"}}`

	rec := do(t, h, http.MethodPost, "/alerts/config", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, body, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "9007199254740993123", "large keys keep every digit")

	rec = do(t, h, http.MethodGet, "/alerts/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "["+body+"]", rec.Body.String())
}

func TestHandler_CreateConfig_Invalid(t *testing.T) {
	h := newTestRouter(newFakeRepo())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"filters":`},
		{"no filters", `{"filters":[],"channel":{"type":"email","value":"ops@example.com"}}`},
		{"empty filter entry", `{"filters":[{}],"channel":{"type":"email","value":"ops@example.com"}}`},
		{"empty value", `{"filters":[{"state":""}],"channel":{"type":"email","value":"ops@example.com"}}`},
		{"object value", `{"filters":[{"state":{"is":"ACTIVE"}}],"channel":{"type":"email","value":"ops@example.com"}}`},
		{"null value", `{"filters":[{"state":null}],"channel":{"type":"email","value":"ops@example.com"}}`},
		{"missing channel", `{"filters":[{"state":"ACTIVE"}]}`},
		{"unknown channel type", `{"filters":[{"state":"ACTIVE"}],"channel":{"type":"sms","value":"+100"}}`},
		{"bad email", `{"filters":[{"state":"ACTIVE"}],"channel":{"type":"email","value":"nope"}}`},
		{"bad webhook", `{"filters":[{"state":"ACTIVE"}],"channel":{"type":"webhook","value":"localhost"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/alerts/config", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_ListConfig_Empty(t *testing.T) {
	rec := do(t, newTestRouter(newFakeRepo()), http.MethodGet, "/alerts/config", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandler_ListRulesAndDelete(t *testing.T) {
	h := newTestRouter(newFakeRepo())
	body := `{"filters":[{"state":"ACTIVE"}],"channel":{"type":"webhook","value":"https://hooks.example.com/a"}}`
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/alerts/config", body).Code)

	rec := do(t, h, http.MethodGet, "/alerts/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []RuleResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "rule-1", resp.Data[0].ID)
	assert.False(t, resp.Data[0].CreatedAt.IsZero())

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/alerts/rules/rule-1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/alerts/rules/rule-1", "").Code)
}

func TestHandler_StoreUnavailable(t *testing.T) {
	repo := newFakeRepo()
	repo.err = ErrStoreUnavailable
	h := newTestRouter(repo)

	rec := do(t, h, http.MethodGet, "/alerts/config", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	rec = do(t, h, http.MethodPost, "/alerts/config",
		`{"filters":[{"state":"ACTIVE"}],"channel":{"type":"email","value":"ops@example.com"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
