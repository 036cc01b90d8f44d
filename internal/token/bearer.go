package token

import (
	"strings"

	"github.com/sing3demons/jwtnode/internal/message"
)

// BearerField is the input field name that switches a verify node to
// request-derived token extraction.
const BearerField = "bearer"

// AccessTokenField is the query parameter and body field holding a bearer token.
const AccessTokenField = "access_token"

// ExtractBearer finds the token in req: an "Authorization: Bearer <token>"
// header first, then the access_token query parameter, then the access_token
// body field.
func ExtractBearer(req message.Request) (string, bool) {
	if req == nil {
		return "", false
	}
	if authz, ok := req.Header("Authorization"); ok {
		parts := strings.Split(authz, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1], true
		}
	}
	if tok, ok := req.Query(AccessTokenField); ok {
		return tok, true
	}
	if tok, ok := req.Body(AccessTokenField); ok {
		return tok, true
	}
	return "", false
}
