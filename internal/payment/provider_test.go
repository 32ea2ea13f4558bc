package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderCreatePreference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body preferenceBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "q-1", body.ExternalReference)
		if assert.Len(t, body.Items, 1) {
			assert.InDelta(t, 150.0, body.Items[0].UnitPrice, 0.001)
			assert.Equal(t, "BRL", body.Items[0].CurrencyID)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(preferenceResponse{ID: "pref-1", InitPoint: "https://pay.example/pref-1"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/", "tok", time.Second)
	pref, err := p.CreatePreference(context.Background(), PreferenceRequest{
		ExternalReference: "q-1",
		Title:             "Emergency consultation",
		AmountCents:       15000,
		Currency:          "BRL",
		ExpiresAt:         time.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "pref-1", pref.ID)
	assert.Equal(t, "https://pay.example/pref-1", pref.CheckoutURL)
}

func TestHTTPProviderClientErrorDoesNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "invalid amount", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", time.Second)
	for i := 0; i < 7; i++ {
		_, err := p.CreatePreference(context.Background(), PreferenceRequest{ExternalReference: "q"})
		assert.True(t, errors.Is(err, ErrProviderRejected))
	}
	assert.Equal(t, int32(7), hits.Load())
}

func TestHTTPProviderServerErrorsTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", time.Second)
	for i := 0; i < 7; i++ {
		_, err := p.CreatePreference(context.Background(), PreferenceRequest{ExternalReference: "q"})
		assert.Error(t, err)
	}
	assert.Equal(t, int32(5), hits.Load())
}

func TestHTTPProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 50*time.Millisecond)
	_, err := p.CreatePreference(context.Background(), PreferenceRequest{ExternalReference: "q"})
	assert.Error(t, err)
}
