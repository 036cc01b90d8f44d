package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *ecdsa.PrivateKey) {
	t.Helper()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return rsaKey, ecKey
}

func jwksServer(t *testing.T, status int, set jose.JSONWebKeySet) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCache_Load(t *testing.T) {
	rsaKey, ecKey := testKeys(t)
	srv, hits := jwksServer(t, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &rsaKey.PublicKey, KeyID: "rsa-1", Algorithm: "RS256", Use: "sig"},
		{Key: &ecKey.PublicKey, KeyID: "ec-1", Algorithm: "ES256", Use: "sig"},
	}})

	cache := NewCache(srv.URL, WithHTTPClient(srv.Client()))
	assert.False(t, cache.Ready())
	assert.Nil(t, cache.Keys())

	require.NoError(t, cache.Load(context.Background()))
	require.True(t, cache.Ready())

	set := cache.Keys()
	assert.Equal(t, 2, set.Len())

	k, ok := set.FindKeyByID("ec-1")
	require.True(t, ok)
	assert.IsType(t, &ecdsa.PublicKey{}, k.Key)

	_, ok = set.FindKeyByID("missing")
	assert.False(t, ok)

	first, ok := set.First()
	require.True(t, ok)
	assert.Equal(t, "rsa-1", first.KeyID)

	// the set is loaded exactly once
	assert.ErrorIs(t, cache.Load(context.Background()), ErrNotReady)
	cache.Start(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestCache_NonOKStatusIsSoftFailure(t *testing.T) {
	srv, _ := jwksServer(t, http.StatusInternalServerError, jose.JSONWebKeySet{})

	cache := NewCache(srv.URL, WithHTTPClient(srv.Client()))
	err := cache.Load(context.Background())

	assert.ErrorIs(t, err, ErrFetch)
	assert.False(t, cache.Ready())
	assert.Nil(t, cache.Keys())
	select {
	case <-cache.Done():
	default:
		t.Fatal("Done should be closed after a failed load")
	}
}

func TestCache_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cache := NewCache(url)
	assert.ErrorIs(t, cache.Load(context.Background()), ErrFetch)
	assert.False(t, cache.Ready())
}

func TestCache_StartIsAsynchronous(t *testing.T) {
	rsaKey, _ := testKeys(t)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: &rsaKey.PublicKey, KeyID: "rsa-1", Algorithm: "RS256"},
		}})
	}))
	t.Cleanup(srv.Close)

	cache := NewCache(srv.URL, WithHTTPClient(srv.Client()), WithTimeout(5*time.Second))
	cache.Start(context.Background())

	// requests arriving during the fetch see no key set
	assert.False(t, cache.Ready())
	assert.Nil(t, cache.Keys())

	close(release)
	select {
	case <-cache.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not complete")
	}
	assert.True(t, cache.Ready())
}

func TestCache_StartTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	cache := NewCache(srv.URL, WithHTTPClient(srv.Client()), WithTimeout(50*time.Millisecond))
	cache.Start(context.Background())

	select {
	case <-cache.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("fetch was not bounded by the timeout")
	}
	assert.False(t, cache.Ready())
}

func TestParseKeySet_SkipsUndecodableKeys(t *testing.T) {
	rsaKey, _ := testKeys(t)
	good, err := json.Marshal(jose.JSONWebKey{Key: &rsaKey.PublicKey, KeyID: "good"})
	require.NoError(t, err)

	doc := []byte(`{"keys":[{"kty":"unknown","kid":"bad"},` + string(good) + `]}`)
	set, skipped, err := ParseKeySet(doc)
	require.NoError(t, err)
	assert.Len(t, skipped, 1)
	assert.Equal(t, 1, set.Len())

	first, _ := set.First()
	assert.Equal(t, "good", first.KeyID)

	_, _, err = ParseKeySet([]byte("not json"))
	assert.Error(t, err)
}

func TestKeySet_Public(t *testing.T) {
	rsaKey, ecKey := testKeys(t)
	set := NewKeySet([]jose.JSONWebKey{
		{Key: rsaKey, KeyID: "rsa-priv", Algorithm: "RS256"},
		{Key: ecKey, KeyID: "ec-priv", Algorithm: "ES256"},
		{Key: []byte("shared"), KeyID: "hmac", Algorithm: "HS256"},
	})

	pub := set.Public()
	require.Len(t, pub.Keys, 2)
	for _, k := range pub.Keys {
		assert.True(t, k.IsPublic(), k.KeyID)
	}

	_, ok := NewKeySet(nil).First()
	assert.False(t, ok)
}
