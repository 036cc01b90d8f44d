// Package keys selects the key material used to sign or verify a token.
//
// Resolve is a pure function of its Request: it never stores the resolved key
// anywhere, so concurrent requests cannot observe each other's secrets.
package keys

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/sing3demons/jwtnode/internal/jwks"
)

// Environment overrides. A set, non-empty variable wins over node configuration.
const (
	EnvSecret     = "NODE_RED_NODE_JWT_SECRET"
	EnvPrivateKey = "NODE_RED_NODE_JWT_PRIVATE_KEY"
	EnvPublicKey  = "NODE_RED_NODE_JWT_PUBLIC_KEY"
)

const encodingBase64URL = "base64url"

var (
	ErrKeyFileUnreadable = errors.New("key file unreadable")
	ErrKeyNotFound       = errors.New("key not found in JWK set")
	ErrInvalidKey        = errors.New("invalid key material")
)

type Mode int

const (
	ModeSign Mode = iota
	ModeVerify
)

func (m Mode) String() string {
	if m == ModeSign {
		return "sign"
	}
	return "verify"
}

// SourceKind names where key material came from.
type SourceKind string

const (
	SourceStaticSecret   SourceKind = "StaticSecret"
	SourceEnvSecret      SourceKind = "EnvSecret"
	SourceFilePrivateKey SourceKind = "FilePrivateKey"
	SourceFilePublicKey  SourceKind = "FilePublicKey"
	SourceJwk            SourceKind = "Jwk"
)

// Source identifies the active key source. Ref is the environment variable
// name, file path or kid, depending on Kind.
type Source struct {
	Kind SourceKind
	Ref  string
}

// Request is everything Resolve needs for one sign or verify call.
type Request struct {
	Mode Mode
	// Algorithms is the configured algorithm (sign) or allow-list (verify).
	Algorithms     []string
	Secret         string
	SecretEncoding string
	KeyPath        string
	// KeyID is the configured kid when signing and the token header kid when verifying.
	KeyID string
	// HeaderAlg is the token header alg; it replaces Algorithms in JWKS verify mode.
	HeaderAlg string
	// KeySet is the node's JWK set, nil while JWKS is not in use or not loaded.
	KeySet *jwks.KeySet
}

// Material is resolved key material ready for the JWT primitives.
type Material struct {
	Source Source
	// Key is []byte for HMAC and a crypto key for RSA/ECDSA.
	Key any
	// Algorithms is the effective algorithm list for this call.
	Algorithms []string
	// Base64URLDecoded is set when the secret was decoded from base64url.
	Base64URLDecoded bool
}

type Resolver struct {
	LookupEnv func(string) (string, bool)
	ReadFile  func(string) ([]byte, error)
}

func NewResolver() *Resolver {
	return &Resolver{LookupEnv: os.LookupEnv, ReadFile: os.ReadFile}
}

// Resolve picks the key source for req. A populated JWK set takes precedence,
// otherwise the algorithm family decides between PEM keys and shared secrets.
func (r *Resolver) Resolve(req Request) (Material, error) {
	if req.KeySet != nil {
		return r.resolveJWK(req)
	}
	if slices.ContainsFunc(req.Algorithms, IsAsymmetric) {
		return r.resolvePEM(req)
	}
	return r.resolveSecret(req)
}

func (r *Resolver) resolveJWK(req Request) (Material, error) {
	var (
		k  jose.JSONWebKey
		ok bool
	)
	switch {
	case req.Mode == ModeVerify && req.KeyID == "":
		k, ok = req.KeySet.First()
	default:
		k, ok = req.KeySet.FindKeyByID(req.KeyID)
	}
	if !ok {
		return Material{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, req.KeyID)
	}

	m := Material{
		Source:     Source{Kind: SourceJwk, Ref: k.KeyID},
		Algorithms: req.Algorithms,
	}

	if req.Mode == ModeSign {
		if k.IsPublic() {
			return Material{}, fmt.Errorf("%w: kid %q has no private key", ErrInvalidKey, k.KeyID)
		}
		m.Key = k.Key
		return m, nil
	}

	// the token declares its own algorithm when verifying against a JWK set
	if req.HeaderAlg != "" {
		m.Algorithms = []string{req.HeaderAlg}
	}
	if pub := k.Public(); pub.Key != nil {
		m.Key = pub.Key
	} else {
		m.Key = k.Key
	}
	return m, nil
}

func (r *Resolver) resolvePEM(req Request) (Material, error) {
	envName, kind := EnvPrivateKey, SourceFilePrivateKey
	if req.Mode == ModeVerify {
		envName, kind = EnvPublicKey, SourceFilePublicKey
	}

	m := Material{Algorithms: req.Algorithms}
	var data []byte
	if v, ok := r.lookupEnv(envName); ok {
		m.Source = Source{Kind: SourceEnvSecret, Ref: envName}
		data = []byte(v)
	} else {
		m.Source = Source{Kind: kind, Ref: req.KeyPath}
		b, err := r.readFile(req.KeyPath)
		if err != nil {
			return Material{}, fmt.Errorf("%w: %v", ErrKeyFileUnreadable, err)
		}
		data = b
	}

	var (
		key any
		err error
	)
	if req.Mode == ModeSign {
		key, err = ParsePrivateKeyFromPEM(data)
	} else {
		key, err = ParsePublicKeyFromPEM(data)
	}
	if err != nil {
		return Material{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	m.Key = key
	return m, nil
}

func (r *Resolver) resolveSecret(req Request) (Material, error) {
	m := Material{
		Source:     Source{Kind: SourceStaticSecret},
		Algorithms: req.Algorithms,
	}
	secret := req.Secret
	if v, ok := r.lookupEnv(EnvSecret); ok {
		m.Source = Source{Kind: SourceEnvSecret, Ref: EnvSecret}
		secret = v
	}

	if req.SecretEncoding != encodingBase64URL {
		m.Key = []byte(secret)
		return m, nil
	}

	decoded, err := DecodeBase64URL(secret)
	if err != nil {
		return Material{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	m.Key = decoded
	m.Base64URLDecoded = true
	return m, nil
}

func (r *Resolver) lookupEnv(name string) (string, bool) {
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(name)
	return v, ok && v != ""
}

func (r *Resolver) readFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("no key file configured")
	}
	read := r.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	return read(path)
}

var stdToURL = strings.NewReplacer("+", "-", "/", "_")

// DecodeBase64URL decodes s from base64url, with or without padding. The
// standard alphabet ('+' and '/') is accepted as well.
// It is not idempotent: decoding an already decoded secret yields different bytes.
func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(stdToURL.Replace(strings.TrimRight(s, "=")))
}
