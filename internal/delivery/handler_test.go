package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ListDeliveries(t *testing.T) {
	p, store := newTestPipeline(t, testConfig())
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), storedRecord("a", "r1", 1, domain.DeliveryStatusFailedPermanent, now)))
	require.NoError(t, store.Create(context.Background(), storedRecord("b", "r1", 2, domain.DeliveryStatusDelivered, now)))

	r := chi.NewRouter()
	NewHandler(p).RegisterRoutes(r)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []string
	}{
		{"defaults to failed", "", http.StatusOK, []string{"a"}},
		{"by status", "?status=delivered", http.StatusOK, []string{"b"}},
		{"empty", "?status=cancelled", http.StatusOK, []string{}},
		{"with limit", "?status=delivered&limit=1", http.StatusOK, []string{"b"}},
		{"unknown status", "?status=lost", http.StatusBadRequest, nil},
		{"zero limit", "?limit=0", http.StatusBadRequest, nil},
		{"limit too large", "?limit=1001", http.StatusBadRequest, nil},
		{"non-numeric limit", "?limit=ten", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts/deliveries"+tt.query, nil))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantIDs == nil {
				return
			}

			var resp struct {
				Data []domain.DeliveryRecord `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			ids := make([]string, 0, len(resp.Data))
			for _, d := range resp.Data {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}
