package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	v := NewVerifier("secret")
	actor := Actor{UserID: uuid.New(), Role: RolePatient, Plan: "premium"}

	token, err := v.Sign(actor, time.Minute)
	require.NoError(t, err)

	got, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestParseRejects(t *testing.T) {
	v := NewVerifier("secret")
	actor := Actor{UserID: uuid.New(), Role: RoleDoctor}

	expired, err := v.Sign(actor, -time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewVerifier("other").Sign(actor, time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Parse(badRole)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	actor := Actor{UserID: uuid.New(), Role: RoleDoctor}
	token, err := v.Sign(actor, time.Minute)
	require.NoError(t, err)

	var failed error
	h := v.Middleware(func(w http.ResponseWriter, _ *http.Request, err error) {
		failed = err
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := FromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, actor, got)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, errors.Is(failed, ErrMissingToken))
}
