package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCaller_StartAndEnd(t *testing.T) {
	var ended string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/calls":
			var body struct {
				Tool      string `json:"tool"`
				SessionID string `json:"session_id"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "deploy_service", body.Tool)

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"call_session_handle": "call-42"})
		case r.Method == http.MethodDelete:
			ended = r.URL.Path
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	caller, err := NewHTTPCaller(config.VoiceConfig{BaseURL: server.URL})
	require.NoError(t, err)

	handle, err := caller.StartVerificationCall(context.Background(), "deploy_service", json.RawMessage(`{}`), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, CallHandle("call-42"), handle)

	require.NoError(t, caller.EndCall(context.Background(), handle))
	assert.Equal(t, "/calls/call-42", ended)
}

func TestHTTPCaller_EstablishFailureIsAdapterUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	caller, err := NewHTTPCaller(config.VoiceConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = caller.StartVerificationCall(context.Background(), "deploy_service", json.RawMessage(`{}`), "sess-1")
	assert.ErrorIs(t, err, polyErrors.ErrAdapterUnavailable)
}

func TestHTTPCaller_ConnectionErrorMapsToTaxonomy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	caller, err := NewHTTPCaller(config.VoiceConfig{BaseURL: url})
	require.NoError(t, err)

	_, err = caller.StartVerificationCall(context.Background(), "deploy_service", json.RawMessage(`{}`), "sess-1")
	assert.ErrorIs(t, err, polyErrors.ErrAdapterUnavailable)
	assert.Equal(t, "ErrAdapterUnavailable", polyErrors.Category(err))
}

func TestHTTPCaller_EmptyHandleRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	caller, err := NewHTTPCaller(config.VoiceConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = caller.StartVerificationCall(context.Background(), "deploy_service", json.RawMessage(`{}`), "sess-1")
	assert.ErrorIs(t, err, polyErrors.ErrAdapterUnavailable)
}
