//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/incident-alerts/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// uniqueKey returns a process definition key no other test uses, so rules
// created by one test never match incidents of another.
func uniqueKey() string {
	return fmt.Sprintf("%d", uuid.New().ID())
}

type alertConfig struct {
	Filters []map[string]string `json:"filters"`
	Channel channel             `json:"channel"`
}

type channel struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type matchResult struct {
	Matched    int  `json:"matched"`
	Enqueued   int  `json:"enqueued"`
	Suppressed int  `json:"suppressed"`
	Stale      bool `json:"stale"`
}

type deliveryRecord struct {
	ID               string  `json:"id"`
	IncidentID       string  `json:"incident_id"`
	RuleID           string  `json:"rule_id"`
	IncidentRevision int64   `json:"incident_revision"`
	Status           string  `json:"status"`
	AttemptCount     int     `json:"attempt_count"`
	LastError        string  `json:"last_error"`
	Channel          channel `json:"channel"`
}

// createRule stores a rule and returns its id. The rule is deleted on cleanup.
func createRule(t *testing.T, client *testutil.Client, cfg alertConfig) string {
	t.Helper()

	resp, err := client.POST("/api/v1/alerts/config", cfg)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, testutil.ReadBody(t, resp))

	location := resp.Header.Get("Location")
	_ = resp.Body.Close()
	require.True(t, strings.HasPrefix(location, "/api/v1/alerts/rules/"), location)
	id := strings.TrimPrefix(location, "/api/v1/alerts/rules/")

	t.Cleanup(func() {
		resp, err := testutil.NewClient(testServer.URL).DELETE("/api/v1/alerts/rules/" + id)
		if err == nil {
			_ = resp.Body.Close()
		}
	})
	return id
}

// submitEvent posts an incident event and returns the match result.
func submitEvent(t *testing.T, client *testutil.Client, incidentID string, revision int64, attrs map[string]any) matchResult {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents/events", map[string]any{
		"incidentId": incidentID,
		"revision":   revision,
		"attributes": attrs,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result struct {
		Data matchResult `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// listDeliveries returns records in status.
func listDeliveries(t *testing.T, client *testutil.Client, status string) []deliveryRecord {
	t.Helper()

	resp, err := client.GET("/api/v1/alerts/deliveries?limit=1000&status=" + status)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []deliveryRecord `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// waitForDelivery polls until the record for incidentID and ruleID reaches status.
func waitForDelivery(t *testing.T, client *testutil.Client, incidentID, ruleID, status string) deliveryRecord {
	t.Helper()

	var found deliveryRecord
	testutil.Eventually(t, 15*time.Second, func() bool {
		for _, rec := range listDeliveries(t, client, status) {
			if rec.IncidentID == incidentID && rec.RuleID == ruleID {
				found = rec
				return true
			}
		}
		return false
	}, fmt.Sprintf("delivery %s/%s never reached %s", incidentID, ruleID, status))
	return found
}
