package flow

import (
	"context"

	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/internal/jwks"
	"github.com/sing3demons/jwtnode/internal/keys"
	"github.com/sing3demons/jwtnode/internal/message"
	"github.com/sing3demons/jwtnode/internal/token"
)

type VerifyNode struct {
	cfg    config.NodeConfig
	engine *token.VerifyEngine
}

// NewVerifyNode builds a verify node. cache is nil when no JWK URL is configured.
func NewVerifyNode(cfg config.NodeConfig, resolver *keys.Resolver, cache *jwks.Cache) *VerifyNode {
	engine := token.NewVerifyEngine(token.VerifyConfig{
		Algorithms:     cfg.Algorithms,
		Secret:         cfg.Secret,
		SecretEncoding: cfg.SecretEncoding,
		KeyPath:        cfg.KeyPath,
	}, resolver, keySetSource(cache))
	return &VerifyNode{cfg: cfg, engine: engine}
}

func (n *VerifyNode) Name() string { return n.cfg.Name }

// Process verifies the token held in the input field. Decoded claims go to
// the output field on the success port; a failure sets payload and statusCode
// and goes to the error port.
func (n *VerifyNode) Process(ctx context.Context, msg *message.Message) (Port, error) {
	if n.cfg.Input == token.BearerField {
		if tok, ok := token.ExtractBearer(msg.Request()); ok {
			msg.Set(token.BearerField, tok)
		}
	}
	tok, _ := msg.String(n.cfg.Input)

	res := n.engine.Verify(ctx, token.VerificationRequest{Token: tok})
	if !res.OK() {
		msg.Set(message.FieldPayload, res.Failure.Error())
		msg.Set(message.FieldStatusCode, res.StatusCode())
		return PortError, res.Failure
	}
	msg.Set(n.cfg.Output, res.Claims)
	return PortSuccess, nil
}
