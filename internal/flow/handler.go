package flow

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/internal/message"
	"github.com/sing3demons/jwtnode/internal/token"
	"github.com/sing3demons/jwtnode/pkg/kp"
	"github.com/sing3demons/jwtnode/pkg/logger"
)

// Handler binds the sign and verify pipelines to HTTP routes and Kafka topics.
// The request body (or Kafka record) is the message JSON. A text/plain body
// is the raw input instead: the claims JSON for sign, the token for verify.
type Handler struct {
	sign        *Pipeline
	verify      *Pipeline
	signInput   string
	signOutput  string
	verifyInput string
}

func NewHandler(sign, verify *Pipeline, signCfg, verifyCfg config.NodeConfig) *Handler {
	return &Handler{
		sign:        sign,
		verify:      verify,
		signInput:   signCfg.Input,
		signOutput:  signCfg.Output,
		verifyInput: verifyCfg.Input,
	}
}

func (h *Handler) SignHandler(ctx *kp.Ctx) {
	ctx.L("jwt sign")

	msg, err := h.bind(ctx, h.signInput)
	if err != nil {
		ctx.JSONError(http.StatusBadRequest, err.Json(), err)
		return
	}

	port, sendErr := h.sign.Input(ctx.Context(), msg)
	if port == PortNone {
		e := &kp.Error{Message: "sign_failed", StatusCode: http.StatusInternalServerError, Err: sendErr}
		if isBadSignInput(sendErr) {
			e.Message, e.StatusCode = "invalid_request", http.StatusBadRequest
		}
		ctx.JSONError(e.StatusCode, map[string]any{"error": e.Message, "message": sendErr.Error()}, e)
		return
	}
	ctx.JSON(http.StatusOK, msg, logger.MaskingRule{Field: "body." + h.signOutput, Type: logger.MaskingTypeToken})
}

func (h *Handler) VerifyHandler(ctx *kp.Ctx) {
	ctx.L("jwt verify",
		logger.MaskingRule{Field: "body." + h.verifyInput, Type: logger.MaskingTypeToken},
		logger.MaskingRule{Field: "body.access_token", Type: logger.MaskingTypeToken},
		logger.MaskingRule{Field: "headers.Authorization", Type: logger.MaskingTypePartial},
	)

	textField := h.verifyInput
	if textField == token.BearerField {
		textField = token.AccessTokenField
	}
	msg, err := h.bind(ctx, textField)
	if err != nil {
		ctx.JSONError(http.StatusBadRequest, err.Json(), err)
		return
	}

	port, verifyErr := h.verify.Input(ctx.Context(), msg)
	if port == PortError {
		ctx.JSONError(http.StatusUnauthorized, msg, verifyErr)
		return
	}
	ctx.JSON(http.StatusOK, msg)
}

// isBadSignInput reports sign failures caused by the shape of the message.
func isBadSignInput(err error) bool {
	return errors.Is(err, errInputMissing) ||
		errors.Is(err, errOptionNotObject) ||
		errors.Is(err, token.ErrClaimsNotObject)
}

// bind decodes the request into a message. textField receives a text/plain body.
func (h *Handler) bind(ctx *kp.Ctx, textField string) (*message.Message, *kp.Error) {
	body := map[string]any{}
	switch {
	case ctx.Req != nil && ctx.Req.ContentLength == 0:
		// header-only verify requests carry no body
	case ctx.Req != nil && ctx.ContentType() == kp.ContentTypePlainText:
		var raw string
		if err := ctx.Bind(&raw); err != nil {
			return nil, &kp.Error{Message: "invalid_request", StatusCode: http.StatusBadRequest, Err: err}
		}
		if raw = strings.TrimSpace(raw); raw != "" {
			body[textField] = raw
		}
	default:
		if err := ctx.Bind(&body); err != nil {
			return nil, &kp.Error{Message: "invalid_request", StatusCode: http.StatusBadRequest, Err: err}
		}
	}
	msg := message.New(body)
	if ctx.Req != nil {
		msg.WithRequest(message.FromHTTP(ctx.Req, body))
	}
	return msg, nil
}
