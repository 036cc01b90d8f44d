package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sing3demons/jwtnode/internal/keys"
)

// SigningError wraps any failure on the sign path.
type SigningError struct {
	Cause error
}

func (e *SigningError) Error() string { return "jwt sign: " + e.Cause.Error() }
func (e *SigningError) Unwrap() error { return e.Cause }

type ErrorKind string

const (
	KindTokenExpired      ErrorKind = "TokenExpired"
	KindNotBefore         ErrorKind = "NotBefore"
	KindInvalidSignature  ErrorKind = "InvalidSignature"
	KindMalformed         ErrorKind = "Malformed"
	KindAlgorithmMismatch ErrorKind = "AlgorithmMismatch"
	KindKeyNotFound       ErrorKind = "KeyNotFound"
	KindKeyFileUnreadable ErrorKind = "KeyFileUnreadable"
	KindUnverifiable      ErrorKind = "Unverifiable"
	KindInvalidClaims     ErrorKind = "InvalidClaims"
)

var (
	ErrTokenMissing      = errors.New("jwt must be provided")
	ErrAlgorithmMismatch = errors.New("invalid algorithm")
	ErrClaimsNotObject   = errors.New("claims must be a JSON object")
)

// VerificationFailure is the Failure variant of a verification Result.
type VerificationFailure struct {
	Kind ErrorKind
	Err  error
}

func (e *VerificationFailure) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *VerificationFailure) Unwrap() error { return e.Err }

func newFailure(err error) *VerificationFailure {
	return &VerificationFailure{Kind: classify(err), Err: err}
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, keys.ErrKeyNotFound):
		return KindKeyNotFound
	case errors.Is(err, keys.ErrKeyFileUnreadable):
		return KindKeyFileUnreadable
	case errors.Is(err, ErrAlgorithmMismatch):
		return KindAlgorithmMismatch
	case errors.Is(err, ErrTokenMissing), errors.Is(err, jwt.ErrTokenMalformed):
		return KindMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return KindTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return KindNotBefore
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return KindInvalidSignature
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return KindInvalidClaims
	default:
		return KindUnverifiable
	}
}
