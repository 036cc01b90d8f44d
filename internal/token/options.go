package token

import (
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sing3demons/jwtnode/internal/config"
)

// Option keys accepted in a message's option object.
const (
	OptAlgorithm   = "algorithm"
	OptExpiresIn   = "expiresIn"
	OptNotBefore   = "notBefore"
	OptAudience    = "audience"
	OptIssuer      = "issuer"
	OptSubject     = "subject"
	OptJwtID       = "jwtid"
	OptKeyID       = "keyid"
	OptNoTimestamp = "noTimestamp"
	OptHeader      = "header"
)

// SignOptions is the merged option set for one sign call.
type SignOptions struct {
	Algorithm   string         `mapstructure:"algorithm"`
	ExpiresIn   *time.Duration `mapstructure:"expiresIn"`
	NotBefore   *time.Duration `mapstructure:"notBefore"`
	Audience    []string       `mapstructure:"audience"`
	Issuer      string         `mapstructure:"issuer"`
	Subject     string         `mapstructure:"subject"`
	JwtID       string         `mapstructure:"jwtid"`
	KeyID       string         `mapstructure:"keyid"`
	NoTimestamp bool           `mapstructure:"noTimestamp"`
	Header      map[string]any `mapstructure:"header"`
}

// MergeOptions overlays overrides on base; overrides win on key collision.
func MergeOptions(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	maps.Copy(out, base)
	maps.Copy(out, overrides)
	return out
}

func DecodeOptions(m map[string]any) (SignOptions, error) {
	var opts SignOptions
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       durationHook,
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return SignOptions{}, err
	}
	if err := dec.Decode(m); err != nil {
		return SignOptions{}, fmt.Errorf("invalid sign options: %w", err)
	}
	return opts, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook reads numbers as seconds and strings as either seconds or a
// Go duration.
func durationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case time.Duration:
		return v, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case float32:
		return time.Duration(float64(v) * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case string:
		d, err := config.ParseExpiry(v)
		return d.Duration(), err
	default:
		return data, nil
	}
}

