//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/bissquit/incident-alerts/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertConfig_RoundTrip(t *testing.T) {
	client := newTestClient(t)
	key := uniqueKey()

	body := `{"filters":[{"processDefinitionKey":"` + key + `"}],"channel":{"type":"email","value":"a@b.com"}}`
	resp, err := client.POSTRaw("/api/v1/alerts/config", []byte(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, body, testutil.ReadBody(t, resp))

	location := resp.Header.Get("Location")
	require.NotEmpty(t, location)
	t.Cleanup(func() {
		r, err := client.Unchecked().DELETE(location)
		if err == nil {
			_ = r.Body.Close()
		}
	})

	resp, err = client.GET("/api/v1/alerts/config")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var configs []json.RawMessage
	testutil.DecodeJSON(t, resp, &configs)

	found := false
	for _, c := range configs {
		if string(c) == body {
			found = true
		}
	}
	assert.True(t, found, "stored config not listed byte-for-byte")
}

func TestAlertConfig_NumericFilterRoundTrip(t *testing.T) {
	client := newTestClient(t)
	key := uniqueKey()

	body := `{"filters":[{"processDefinitionKey":` + key + `}],"channel":{"type":"webhook","value":"https://hooks.example.com/n"}}`
	resp, err := client.POSTRaw("/api/v1/alerts/config", []byte(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, body, testutil.ReadBody(t, resp))

	location := resp.Header.Get("Location")
	t.Cleanup(func() {
		r, err := client.Unchecked().DELETE(location)
		if err == nil {
			_ = r.Body.Close()
		}
	})

	resp, err = client.GET("/api/v1/alerts/config")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var configs []json.RawMessage
	testutil.DecodeJSON(t, resp, &configs)

	found := false
	for _, c := range configs {
		if string(c) == body {
			found = true
		}
	}
	assert.True(t, found, "numeric filter not listed as stored")
}

func TestAlertConfig_Validation(t *testing.T) {
	client := newTestClient(t).Unchecked()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"filters":`},
		{"no filters", `{"filters":[],"channel":{"type":"email","value":"a@b.com"}}`},
		{"empty filter entry", `{"filters":[{}],"channel":{"type":"email","value":"a@b.com"}}`},
		{"array filter value", `{"filters":[{"state":["ACTIVE"]}],"channel":{"type":"email","value":"a@b.com"}}`},
		{"unknown channel type", `{"filters":[{"state":"ACTIVE"}],"channel":{"type":"sms","value":"123"}}`},
		{"invalid email", `{"filters":[{"state":"ACTIVE"}],"channel":{"type":"email","value":"not-an-email"}}`},
		{"relative webhook url", `{"filters":[{"state":"ACTIVE"}],"channel":{"type":"webhook","value":"/hook"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.POSTRaw("/api/v1/alerts/config", []byte(tt.body))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAlertRules_ListAndDelete(t *testing.T) {
	client := newTestClient(t)
	key := uniqueKey()

	id := createRule(t, client, alertConfig{
		Filters: []map[string]string{{"processDefinitionKey": key}},
		Channel: channel{Type: "webhook", Value: "https://hooks.example.com/alerts"},
	})

	resp, err := client.GET("/api/v1/alerts/rules")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Data []struct {
			ID      string              `json:"id"`
			Filters []map[string]string `json:"filters"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &list)

	var listed bool
	for _, r := range list.Data {
		if r.ID == id {
			listed = true
			assert.Equal(t, key, r.Filters[0]["processDefinitionKey"])
		}
	}
	require.True(t, listed)

	resp, err = client.DELETE("/api/v1/alerts/rules/" + id)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.DELETE("/api/v1/alerts/rules/" + id)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// deleted rules stop matching immediately
	res := submitEvent(t, client, "inc-"+key, 1, map[string]any{"processDefinitionKey": key})
	assert.Equal(t, 0, res.Matched)
}

func TestAlertRules_DeleteUnknownID(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.DELETE("/api/v1/alerts/rules/not-a-uuid")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
