package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/internal/jwks"
	"github.com/sing3demons/jwtnode/internal/keys"
	"github.com/sing3demons/jwtnode/internal/message"
	"github.com/sing3demons/jwtnode/internal/token"
)

var (
	errInputMissing    = errors.New("input field is missing")
	errOptionNotObject = errors.New("option must be an object")
)

type SignNode struct {
	cfg    config.NodeConfig
	engine *token.SignEngine
}

// NewSignNode builds a sign node. cache is nil when no JWK URL is configured.
func NewSignNode(cfg config.NodeConfig, resolver *keys.Resolver, cache *jwks.Cache) *SignNode {
	engine := token.NewSignEngine(token.SignConfig{
		Algorithm:      cfg.Algorithm,
		Expiry:         cfg.Expiry.Duration(),
		KeyID:          cfg.KeyID,
		Secret:         cfg.Secret,
		SecretEncoding: cfg.SecretEncoding,
		KeyPath:        cfg.KeyPath,
	}, resolver, keySetSource(cache))
	return &SignNode{cfg: cfg, engine: engine}
}

func (n *SignNode) Name() string { return n.cfg.Name }

// Process signs the claims held in the input field and stores the token in
// the output field. A signing failure forwards nothing.
func (n *SignNode) Process(ctx context.Context, msg *message.Message) (Port, error) {
	claims, ok := msg.Get(n.cfg.Input)
	if !ok {
		return PortNone, &token.SigningError{Cause: fmt.Errorf("%w: %q", errInputMissing, n.cfg.Input)}
	}

	var options map[string]any
	if v, ok := msg.Get(message.FieldOption); ok {
		if options, ok = v.(map[string]any); !ok {
			return PortNone, &token.SigningError{Cause: errOptionNotObject}
		}
	}

	signed, err := n.engine.Sign(ctx, token.SigningRequest{Claims: claims, Options: options})
	if err != nil {
		return PortNone, err
	}
	msg.Set(n.cfg.Output, signed)
	return PortSuccess, nil
}

func keySetSource(cache *jwks.Cache) token.KeySetSource {
	if cache == nil {
		return nil
	}
	return cache
}
