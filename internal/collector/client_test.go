package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewHTTPClient(Config{BaseURL: server.URL, Timeout: 2 * time.Second}, zerolog.Nop())
	return client, server
}

func TestHTTPClient_Submit(t *testing.T) {
	batch := []WireRecord{
		{TenantID: "study-001", AppPackageName: "com.example.app", UsageTimeMs: 5000,
			Timestamp: []int{2026, 3, 15, 9, 30, 45}, SessionID: "session_1_abc", InteractionType: "completed"},
	}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/usage/submit-with-study-id", r.URL.Path)
		assert.Equal(t, "study-001", r.URL.Query().Get("studyId"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var received []WireRecord
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		require.Len(t, received, 1)
		assert.Equal(t, "com.example.app", received[0].AppPackageName)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(received)
	})

	accepted, err := client.Submit(context.Background(), "study-001", batch)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "session_1_abc", accepted[0].SessionID)
}

func TestHTTPClient_Submit_IdentityIsEscaped(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "study 001/x", r.URL.Query().Get("studyId"))
		w.Write([]byte("[]"))
	})

	_, err := client.Submit(context.Background(), "study 001/x", nil)
	assert.NoError(t, err)
}

func TestHTTPClient_Submit_ServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Submit(context.Background(), "study-001", []WireRecord{{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPClient_Submit_MalformedResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := client.Submit(context.Background(), "study-001", []WireRecord{{}})
	assert.Error(t, err)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/actuator/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"UP"}`))
	})

	status, err := client.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "UP", status)
}

func TestHTTPClient_HealthCheck_Unavailable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.HealthCheck(context.Background())
	assert.Error(t, err)
}

func TestHTTPClient_Unreachable(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.Submit(context.Background(), "study-001", []WireRecord{{}})
	assert.Error(t, err)

	_, err = client.HealthCheck(context.Background())
	assert.Error(t, err)
}

func TestNewHTTPClient_TrimsTrailingSlash(t *testing.T) {
	client := NewHTTPClient(Config{BaseURL: "http://collector.example/"}, zerolog.Nop())
	assert.Equal(t, "http://collector.example", client.baseURL)
}
