package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sing3demons/jwtnode/internal/jwks"
	"github.com/sing3demons/jwtnode/internal/keys"
	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/mlog"
)

// KeySetSource yields the current JWK set, or nil while none is loaded.
// *jwks.Cache implements it.
type KeySetSource interface {
	Keys() *jwks.KeySet
}

type SignConfig struct {
	Algorithm      string
	Expiry         time.Duration
	KeyID          string
	Secret         string
	SecretEncoding string
	KeyPath        string
}

type SigningRequest struct {
	// Claims is a JSON object, or a string holding one.
	Claims any
	// Options are caller overrides, merged last.
	Options map[string]any
}

type SignEngine struct {
	cfg      SignConfig
	resolver *keys.Resolver
	keySet   KeySetSource
	now      func() time.Time
}

// NewSignEngine builds a sign engine. keySet may be nil when no JWK URL is configured.
func NewSignEngine(cfg SignConfig, resolver *keys.Resolver, keySet KeySetSource) *SignEngine {
	if resolver == nil {
		resolver = keys.NewResolver()
	}
	return &SignEngine{cfg: cfg, resolver: resolver, keySet: keySet, now: time.Now}
}

func (e *SignEngine) Sign(ctx context.Context, req SigningRequest) (string, error) {
	log := mlog.L(ctx)

	claims, err := normalizeClaims(req.Claims)
	if err != nil {
		return "", &SigningError{Cause: err}
	}

	material, err := e.resolver.Resolve(keys.Request{
		Mode:           keys.ModeSign,
		Algorithms:     []string{e.cfg.Algorithm},
		Secret:         e.cfg.Secret,
		SecretEncoding: e.cfg.SecretEncoding,
		KeyPath:        e.cfg.KeyPath,
		KeyID:          e.cfg.KeyID,
		KeySet:         currentKeySet(e.keySet),
	})
	if err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			log.Warn(logAction.WARN("no key found in JWK"), map[string]any{"kid": e.cfg.KeyID})
		}
		return "", &SigningError{Cause: err}
	}
	if material.Base64URLDecoded {
		log.Warn(logAction.WARN("converted base64url secret"), nil)
	}

	base := map[string]any{OptAlgorithm: e.cfg.Algorithm}
	if e.cfg.Expiry > 0 {
		base[OptExpiresIn] = e.cfg.Expiry
	}
	if e.cfg.KeyID != "" {
		base[OptKeyID] = e.cfg.KeyID
	}
	if _, ok := claims["exp"]; ok {
		delete(base, OptExpiresIn)
		log.Warn(logAction.WARN("claims.exp present, configured expiry ignored"), map[string]any{"exp": claims["exp"]})
	}

	opts, err := DecodeOptions(MergeOptions(base, req.Options))
	if err != nil {
		return "", &SigningError{Cause: err}
	}

	signed, err := e.sign(claims, opts, material.Key)
	if err != nil {
		return "", &SigningError{Cause: err}
	}
	log.Debug(logAction.SIGN("token signed"), map[string]any{
		"algorithm": opts.Algorithm,
		"kid":       opts.KeyID,
		"source":    material.Source.Kind,
	})
	return signed, nil
}

func (e *SignEngine) sign(claims jwt.MapClaims, opts SignOptions, key any) (string, error) {
	method := jwt.GetSigningMethod(opts.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported algorithm %q", opts.Algorithm)
	}

	timestamp := e.now().Unix()
	if iat, ok := numericClaim(claims["iat"]); ok {
		timestamp = iat
	}
	if opts.NoTimestamp {
		delete(claims, "iat")
	} else {
		claims["iat"] = timestamp
	}

	if opts.ExpiresIn != nil {
		if _, ok := claims["exp"]; ok {
			return "", errors.New(`bad "expiresIn" option: the claims already have an "exp" property`)
		}
		claims["exp"] = timestamp + int64(opts.ExpiresIn.Seconds())
	}
	if opts.NotBefore != nil {
		if _, ok := claims["nbf"]; ok {
			return "", errors.New(`bad "notBefore" option: the claims already have an "nbf" property`)
		}
		claims["nbf"] = timestamp + int64(opts.NotBefore.Seconds())
	}

	for _, c := range []struct {
		claim string
		value any
		set   bool
	}{
		{"aud", audienceClaim(opts.Audience), len(opts.Audience) > 0},
		{"iss", opts.Issuer, opts.Issuer != ""},
		{"sub", opts.Subject, opts.Subject != ""},
		{"jti", opts.JwtID, opts.JwtID != ""},
	} {
		if !c.set {
			continue
		}
		if _, ok := claims[c.claim]; ok {
			return "", fmt.Errorf("bad option: the claims already have an %q property", c.claim)
		}
		claims[c.claim] = c.value
	}

	tok := jwt.NewWithClaims(method, claims)
	maps.Copy(tok.Header, opts.Header)
	tok.Header["alg"] = method.Alg()
	if opts.KeyID != "" {
		tok.Header["kid"] = opts.KeyID
	}
	return tok.SignedString(key)
}

func normalizeClaims(v any) (jwt.MapClaims, error) {
	switch c := v.(type) {
	case map[string]any:
		return maps.Clone(jwt.MapClaims(c)), nil
	case jwt.MapClaims:
		return maps.Clone(c), nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(c), &m); err != nil || m == nil {
			return nil, ErrClaimsNotObject
		}
		return jwt.MapClaims(m), nil
	case []byte:
		return normalizeClaims(string(c))
	default:
		return nil, ErrClaimsNotObject
	}
}

func numericClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func audienceClaim(aud []string) any {
	if len(aud) == 1 {
		return aud[0]
	}
	return aud
}

func currentKeySet(src KeySetSource) *jwks.KeySet {
	if src == nil {
		return nil
	}
	return src.Keys()
}
