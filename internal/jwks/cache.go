// Package jwks fetches a JSON Web Key Set once and keeps it in memory for the
// life of a node. There is no refresh: the set is written at most once and is
// read-only afterwards, so readers never lock.
package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/logger"
	"github.com/sing3demons/jwtnode/pkg/mlog"
)

var (
	// ErrFetch is a soft failure: the cache stays empty and callers fall back
	// to non-JWKS key resolution.
	ErrFetch    = errors.New("unable to fetch JWK set")
	ErrNotReady = errors.New("JWK set not loaded")
)

const (
	defaultTimeout  = 10 * time.Second
	maxDocumentSize = 1 << 20
)

// KeySet is an immutable, ordered JWK Set.
type KeySet struct {
	keys []jose.JSONWebKey
}

func NewKeySet(keys []jose.JSONWebKey) *KeySet {
	return &KeySet{keys: append([]jose.JSONWebKey(nil), keys...)}
}

func (s *KeySet) Len() int { return len(s.keys) }

// FindKeyByID returns the first key whose kid equals kid.
func (s *KeySet) FindKeyByID(kid string) (jose.JSONWebKey, bool) {
	for _, k := range s.keys {
		if k.KeyID == kid {
			return k, true
		}
	}
	return jose.JSONWebKey{}, false
}

// First returns keys[0], used when a token carries no kid.
func (s *KeySet) First() (jose.JSONWebKey, bool) {
	if len(s.keys) == 0 {
		return jose.JSONWebKey{}, false
	}
	return s.keys[0], true
}

// Public returns the set with private material stripped.
func (s *KeySet) Public() jose.JSONWebKeySet {
	out := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(s.keys))}
	for _, k := range s.keys {
		if pub := k.Public(); pub.Key != nil {
			out.Keys = append(out.Keys, pub)
		}
	}
	return out
}

// ParseKeySet decodes a JWK Set document. Keys that cannot be decoded are
// skipped and reported in the returned slice of errors.
func ParseKeySet(data []byte) (*KeySet, []error, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode JWK set: %w", err)
	}

	var skipped []error
	keys := make([]jose.JSONWebKey, 0, len(doc.Keys))
	for i, raw := range doc.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(raw); err != nil {
			skipped = append(skipped, fmt.Errorf("key %d: %w", i, err))
			continue
		}
		keys = append(keys, k)
	}
	return &KeySet{keys: keys}, skipped, nil
}

type Option func(*Cache)

func WithHTTPClient(c *http.Client) Option {
	return func(cache *Cache) { cache.client = c }
}

// WithTimeout bounds the fetch started by Start. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(cache *Cache) {
		if d > 0 {
			cache.timeout = d
		}
	}
}

// Cache holds the JWK Set of one node.
type Cache struct {
	url     string
	client  *http.Client
	timeout time.Duration

	set  atomic.Pointer[KeySet]
	once sync.Once
	done chan struct{}
}

func NewCache(url string, opts ...Option) *Cache {
	c := &Cache{
		url:     url,
		client:  http.DefaultClient,
		timeout: defaultTimeout,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) URL() string { return c.url }

// Start fetches the set in the background. Requests arriving before the fetch
// completes see an empty cache. Only the first call has any effect.
func (c *Cache) Start(ctx context.Context) {
	c.once.Do(func() {
		go func() {
			defer close(c.done)
			fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			_ = c.load(fetchCtx)
		}()
	})
}

// Load fetches the set synchronously. Only the first call has any effect.
func (c *Cache) Load(ctx context.Context) error {
	err := ErrNotReady
	c.once.Do(func() {
		defer close(c.done)
		err = c.load(ctx)
	})
	return err
}

// Done is closed once the fetch has finished, successfully or not.
func (c *Cache) Done() <-chan struct{} { return c.done }

// Ready reports whether a key set has been loaded.
func (c *Cache) Ready() bool { return c.set.Load() != nil }

// Keys returns the loaded set, or nil before a successful fetch.
func (c *Cache) Keys() *KeySet { return c.set.Load() }

func (c *Cache) load(ctx context.Context) error {
	log := mlog.L(ctx)
	start := time.Now()

	log.SetDependencyMetadata(logger.DependencyMetadata{Dependency: "jwks"}).
		Debug(logAction.JWKS("GET "+c.url), map[string]any{"url": c.url})

	set, skipped, err := c.fetch(ctx)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		log.SetDependencyMetadata(logger.DependencyMetadata{Dependency: "jwks", ResponseTime: elapsed}).
			Warn(logAction.JWKS("unable to fetch JWK"), map[string]any{"url": c.url, "error": err.Error()})
		return err
	}
	for _, s := range skipped {
		log.Warn(logAction.JWKS("skipped JWK"), map[string]any{"url": c.url, "error": s.Error()})
	}

	c.set.Store(set)
	log.SetDependencyMetadata(logger.DependencyMetadata{Dependency: "jwks", ResponseTime: elapsed}).
		Info(logAction.JWKS(fmt.Sprintf("%d keys loaded from JWK", set.Len())), map[string]any{"url": c.url, "keys": set.Len()})
	return nil
}

func (c *Cache) fetch(ctx context.Context) (*KeySet, []error, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	set, skipped, err := ParseKeySet(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return set, skipped, nil
}
