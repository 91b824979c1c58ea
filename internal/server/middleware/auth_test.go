package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func authProbe(t *testing.T, mw func(http.Handler) http.Handler, header, value string) int {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthDisabledWhenUnconfigured(t *testing.T) {
	mw := Auth("", "")
	assert.Equal(t, http.StatusOK, authProbe(t, mw, "", ""))
}

func TestAuthPlaintextKey(t *testing.T) {
	mw := Auth("secret", "")

	assert.Equal(t, http.StatusUnauthorized, authProbe(t, mw, "", ""))
	assert.Equal(t, http.StatusUnauthorized, authProbe(t, mw, "X-API-Key", "wrong"))
	assert.Equal(t, http.StatusOK, authProbe(t, mw, "X-API-Key", "secret"))
	assert.Equal(t, http.StatusOK, authProbe(t, mw, "Authorization", "Bearer secret"))
	// Non-bearer schemes are not accepted.
	assert.Equal(t, http.StatusUnauthorized, authProbe(t, mw, "Authorization", "Basic secret"))
}

func TestAuthBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	// The hash takes precedence over any plaintext key.
	mw := Auth("ignored", string(hash))

	assert.Equal(t, http.StatusOK, authProbe(t, mw, "X-API-Key", "secret"))
	assert.Equal(t, http.StatusUnauthorized, authProbe(t, mw, "X-API-Key", "ignored"))
}
