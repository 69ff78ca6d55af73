package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ai-workbench/backend/internal/logging"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
)

type staticVerifier map[string]user.Identity

func (v staticVerifier) Verify(token string) (user.Identity, error) {
	if identity, ok := v[token]; ok {
		return identity, nil
	}
	return user.Identity{}, errors.New("unknown token")
}

func captureIdentity(got *user.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	verifier := staticVerifier{"good": {Subject: "user_alice"}}
	mw := Authenticate(verifier, logging.Discard())

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		want    string
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, "user_alice"},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer good") }, "user_alice"},
		{"invalid token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }, ""},
		{"missing header", func(r *http.Request) {}, ""},
		{"query token ignored for plain requests", func(r *http.Request) { r.URL.RawQuery = "token=good" }, ""},
		{"query token for websocket upgrade", func(r *http.Request) {
			r.URL.RawQuery = "token=good"
			r.Header.Set("Upgrade", "websocket")
		}, "user_alice"},
		{"query token for event stream", func(r *http.Request) {
			r.URL.RawQuery = "token=good"
			r.Header.Set("Accept", "text/event-stream")
		}, "user_alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got user.Identity
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()

			mw(captureIdentity(&got)).ServeHTTP(rec, req)

			require.Equal(t, http.StatusNoContent, rec.Code)
			require.Equal(t, tt.want, got.Subject)
		})
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://workbench.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	preflight := httptest.NewRequest(http.MethodOptions, "/api/tools/chat", nil)
	preflight.Header.Set("Origin", "https://workbench.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, preflight)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://workbench.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	foreign := httptest.NewRequest(http.MethodGet, "/api/tools/chat", nil)
	foreign.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, foreign)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithOutput(&buf, "info", "json")
	handler := RequestLogger(logrus.NewEntry(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "warning", entry["level"])
	require.Equal(t, "/missing", entry["path"])
	require.EqualValues(t, http.StatusNotFound, entry["status"])
}
