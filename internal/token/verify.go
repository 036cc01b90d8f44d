package token

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sing3demons/jwtnode/internal/keys"
	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/logger"
	"github.com/sing3demons/jwtnode/pkg/mlog"
)

type VerifyConfig struct {
	// Algorithms is the allow-list used outside JWKS mode.
	Algorithms     []string
	Secret         string
	SecretEncoding string
	KeyPath        string
}

type VerificationRequest struct {
	Token string
}

// Result is Success when Failure is nil.
type Result struct {
	Claims  map[string]any
	Failure *VerificationFailure
}

func (r Result) OK() bool { return r.Failure == nil }

// StatusCode is the HTTP-style status attached for downstream routing.
func (r Result) StatusCode() int {
	if r.OK() {
		return http.StatusOK
	}
	return http.StatusUnauthorized
}

type VerifyEngine struct {
	cfg      VerifyConfig
	resolver *keys.Resolver
	keySet   KeySetSource
	parser   *jwt.Parser
}

// NewVerifyEngine builds a verify engine. keySet may be nil when no JWK URL is configured.
func NewVerifyEngine(cfg VerifyConfig, resolver *keys.Resolver, keySet KeySetSource) *VerifyEngine {
	if resolver == nil {
		resolver = keys.NewResolver()
	}
	return &VerifyEngine{cfg: cfg, resolver: resolver, keySet: keySet, parser: jwt.NewParser()}
}

// Verify never returns a fault; every outcome is carried by the Result.
func (e *VerifyEngine) Verify(ctx context.Context, req VerificationRequest) Result {
	log := mlog.L(ctx)
	maskToken := logger.MaskingRule{Field: "token", Type: logger.MaskingTypeToken}

	res := e.verify(req.Token)
	if res.OK() {
		log.Debug(logAction.VERIFY("token verified"), map[string]any{"token": req.Token}, maskToken)
	} else {
		log.Error(logAction.VERIFY("token rejected"), map[string]any{
			"token": req.Token,
			"kind":  res.Failure.Kind,
			"error": res.Failure.Err.Error(),
		}, maskToken)
	}
	return res
}

func (e *VerifyEngine) verify(tokenString string) Result {
	if tokenString == "" {
		return Result{Failure: newFailure(ErrTokenMissing)}
	}

	unverified, _, err := e.parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return Result{Failure: newFailure(err)}
	}
	headerAlg, _ := unverified.Header["alg"].(string)
	kid, _ := unverified.Header["kid"].(string)

	material, err := e.resolver.Resolve(keys.Request{
		Mode:           keys.ModeVerify,
		Algorithms:     e.cfg.Algorithms,
		Secret:         e.cfg.Secret,
		SecretEncoding: e.cfg.SecretEncoding,
		KeyPath:        e.cfg.KeyPath,
		KeyID:          kid,
		HeaderAlg:      headerAlg,
		KeySet:         currentKeySet(e.keySet),
	})
	if err != nil {
		return Result{Failure: newFailure(err)}
	}

	if !slices.Contains(material.Algorithms, headerAlg) {
		return Result{Failure: newFailure(fmt.Errorf("%w: %q not in %v", ErrAlgorithmMismatch, headerAlg, material.Algorithms))}
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return material.Key, nil
	}, jwt.WithValidMethods(material.Algorithms))
	if err != nil {
		return Result{Failure: newFailure(err)}
	}
	return Result{Claims: map[string]any(claims)}
}
