package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/bissquit/incident-alerts/internal/matching"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	got []domain.Incident
	res matching.Result
	err error
}

func (f *fakeEvents) Handle(_ context.Context, incident domain.Incident) (matching.Result, error) {
	f.got = append(f.got, incident)
	return f.res, f.err
}

func post(h *Handler, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/incidents/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	return rec
}

func TestDecode_KeepsNumbersExact(t *testing.T) {
	incident, err := Decode([]byte(`{"incidentId":"i-1","revision":2,"attributes":{"processDefinitionKey":2251799813685249123}}`))
	require.NoError(t, err)

	key, ok := incident.ProcessDefinitionKey()
	require.True(t, ok)
	assert.Equal(t, "2251799813685249123", key)
	assert.Equal(t, int64(2), incident.Revision)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, matching.ErrInvalidIncident)
}

func TestHandler_SubmitEvent(t *testing.T) {
	events := &fakeEvents{res: matching.Result{Matched: 2, Enqueued: 1, Suppressed: 1}}

	rec := post(NewHandler(events), `{"incidentId":"i-1","revision":1,"attributes":{"state":"ACTIVE"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"data":{"matched":2,"enqueued":1,"suppressed":1,"stale":false}}`, rec.Body.String())
	require.Len(t, events.got, 1)
	assert.Equal(t, "i-1", events.got[0].ID)
}

func TestHandler_SubmitEvent_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		retryAfter string
	}{
		{"malformed json", `{"incidentId":`, nil, http.StatusBadRequest, ""},
		{"invalid incident", `{"revision":1}`, fmt.Errorf("%w: incidentId is required", matching.ErrInvalidIncident), http.StatusBadRequest, ""},
		{"index not ready", `{"incidentId":"i-1","revision":1}`, matching.ErrIndexNotReady, http.StatusServiceUnavailable, "5"},
		{"backend failure", `{"incidentId":"i-1","revision":1}`, errors.New("redis down"), http.StatusServiceUnavailable, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(NewHandler(&fakeEvents{err: tt.err}), tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}
