package message

import (
	"fmt"
	"net/http"
	"strings"
)

// Request exposes the parts of an inbound HTTP request a node may read.
type Request interface {
	Header(name string) (string, bool)
	Query(name string) (string, bool)
	Body(name string) (string, bool)
}

type httpRequest struct {
	r    *http.Request
	body map[string]any
}

// FromHTTP adapts r. body is the already decoded request body and may be nil.
func FromHTTP(r *http.Request, body map[string]any) Request {
	return &httpRequest{r: r, body: body}
}

func (h *httpRequest) Header(name string) (string, bool) {
	values, ok := h.r.Header[http.CanonicalHeaderKey(name)]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (h *httpRequest) Query(name string) (string, bool) {
	values, ok := h.r.URL.Query()[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (h *httpRequest) Body(name string) (string, bool) {
	return lookup(h.body, name)
}

// mapRequest carries request data inside a non-HTTP message:
// {"headers": {...}, "query": {...}, "body": {...}}.
type mapRequest struct {
	headers map[string]any
	query   map[string]any
	body    map[string]any
}

func RequestFromMap(m map[string]any) Request {
	r := &mapRequest{}
	r.headers, _ = m["headers"].(map[string]any)
	r.query, _ = m["query"].(map[string]any)
	r.body, _ = m["body"].(map[string]any)
	return r
}

func (r *mapRequest) Header(name string) (string, bool) {
	for k, v := range r.headers {
		if strings.EqualFold(k, name) {
			return stringify(v)
		}
	}
	return "", false
}

func (r *mapRequest) Query(name string) (string, bool) { return lookup(r.query, name) }
func (r *mapRequest) Body(name string) (string, bool)  { return lookup(r.body, name) }

func lookup(m map[string]any, name string) (string, bool) {
	v, ok := m[name]
	if !ok {
		return "", false
	}
	return stringify(v)
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []any:
		if len(t) == 0 {
			return "", false
		}
		return stringify(t[0])
	default:
		return fmt.Sprint(t), true
	}
}
