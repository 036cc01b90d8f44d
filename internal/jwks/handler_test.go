package jwks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/pkg/kp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveJwks(t *testing.T, cache *Cache) *httptest.ResponseRecorder {
	t.Helper()
	app := kp.NewMicroservice(&config.AppConfig{ServiceName: "test"})
	app.GET("/.well-known/jwks.json", NewHandler(cache).JwksHandler)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	return rec
}

func TestJwksHandler_NotReady(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, serveJwks(t, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serveJwks(t, NewCache("http://127.0.0.1:0")).Code)
}

func TestJwksHandler_ServesPublicKeys(t *testing.T) {
	rsaKey, _ := testKeys(t)
	srv, _ := jwksServer(t, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: rsaKey, KeyID: "rsa-1", Algorithm: "RS256", Use: "sig"},
		{Key: []byte("shared"), KeyID: "hmac-1", Algorithm: "HS256"},
	}})
	cache := NewCache(srv.URL)
	require.NoError(t, cache.Load(context.Background()))

	rec := serveJwks(t, cache)
	require.Equal(t, http.StatusOK, rec.Code)

	var set jose.JSONWebKeySet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "rsa-1", set.Keys[0].KeyID)
	assert.True(t, set.Keys[0].IsPublic())
}
