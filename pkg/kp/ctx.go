package kp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/pkg/kafka"
	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/logger"
)

const MaxBodySize = 10 << 20 // 10 MB
type ContentType string

const (
	ContentTypeJSON          ContentType = "application/json"
	ContentTypeForm          ContentType = "application/x-www-form-urlencoded"
	ContentTypeMultipartForm ContentType = "multipart/form-data"
	ContentTypePlainText     ContentType = "text/plain"
)

type CtxKey string

const (
	SessionID     CtxKey = "x-session-id"
	TransactionID CtxKey = "x-transaction-id"
)

// Ctx is the per-request context handed to handlers. Req and Res are nil for
// Kafka messages, where Msg carries the record instead.
type Ctx struct {
	Res http.ResponseWriter
	Req *http.Request
	Msg *kafka.Message
	Cfg *config.AppConfig
	Log *logger.Logger

	ctx context.Context
}

// TransactionID generates or retrieves a transaction ID with proper priority:
// 1. Existing context value (already set)
// 2. HTTP Header (x-transaction-id)
// 3. Query parameter (tid)
// 4. Generate new UUID
func (c *Ctx) TransactionID() string {
	return c.correlationID(TransactionID, "tid", c.Log.SetTransactionID)
}

// SessionID generates or retrieves a session ID with the same priority as TransactionID.
func (c *Ctx) SessionID() string {
	return c.correlationID(SessionID, "sid", c.Log.SetSessionID)
}

func (c *Ctx) correlationID(key CtxKey, queryName string, store func(string)) string {
	if id, ok := c.Context().Value(key).(string); ok && id != "" {
		return id
	}

	var headerID, queryID string
	if c.Req != nil {
		headerID = strings.TrimSpace(c.Req.Header.Get(string(key)))
		queryID = strings.TrimSpace(c.Req.URL.Query().Get(queryName))
	}

	var id string
	if headerID != "" && queryID != "" {
		if headerID != queryID {
			id = fmt.Sprintf("%s:%s", headerID, queryID)
		} else {
			id = headerID
		}
	} else if headerID != "" {
		id = headerID
	} else if queryID != "" {
		id = queryID
	}

	if id == "" {
		id = uuid.NewString()
	}

	c.setContext(context.WithValue(c.Context(), key, id))
	if c.Log != nil {
		store(id)
	}
	return id
}

func newMuxContext(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig) *Ctx {
	csLog := logger.NewLoggerWithConfig(cfg.ServiceName, cfg.Version, &cfg.LoggerConfig)
	c := &Ctx{
		Res: w,
		Req: r.WithContext(logger.SetLogger(r.Context(), csLog)),
		Cfg: cfg,
		Log: csLog,
	}
	c.TransactionID()
	c.SessionID()
	return c
}

func newConsumerContext(ctx context.Context, msg *kafka.Message, cfg *config.AppConfig) *Ctx {
	csLog := logger.NewLoggerWithConfig(cfg.ServiceName, cfg.Version, &cfg.LoggerConfig)
	c := &Ctx{
		Msg: msg,
		Cfg: cfg,
		Log: csLog,
		ctx: logger.SetLogger(ctx, csLog),
	}
	c.TransactionID()
	c.SessionID()
	return c
}

func (c *Ctx) Context() context.Context {
	if c.Req != nil {
		return c.Req.Context()
	}
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func (c *Ctx) setContext(ctx context.Context) {
	if c.Req != nil {
		c.Req = c.Req.WithContext(ctx)
		return
	}
	c.ctx = ctx
}

func (c *Ctx) Query(name string) string {
	if c.Req == nil {
		return ""
	}
	return c.Req.URL.Query().Get(name)
}

// Body returns the raw request body, or the Kafka record value.
func (c *Ctx) Body() ([]byte, error) {
	if c.Req == nil {
		if c.Msg == nil {
			return nil, errors.New("no request body")
		}
		return c.Msg.Value, nil
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(c.Req.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(bodyBytes)) >= MaxBodySize {
		return nil, fmt.Errorf("request body too large (max %d bytes)", MaxBodySize)
	}

	// Restore body for potential re-reads
	c.Req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	return bodyBytes, nil
}

func (c *Ctx) Bind(v any) error {
	if c.Req == nil {
		body, err := c.Body()
		if err != nil {
			return err
		}
		return c.parseJSON(body, v)
	}

	// Only parse body for non-GET requests
	if c.Req.Method == http.MethodGet || c.Req.Method == http.MethodHead {
		return nil
	}

	contentType := c.ContentType()
	if contentType == ContentTypeMultipartForm {
		return c.parseMultipartForm(v)
	}

	bodyBytes, err := c.Body()
	if err != nil {
		return err
	}

	switch contentType {
	case ContentTypeJSON:
		return c.parseJSON(bodyBytes, v)
	case ContentTypeForm:
		return c.parseFormURLEncoded(bodyBytes, v)
	case ContentTypePlainText:
		return c.parsePlainText(bodyBytes, v)
	default:
		return fmt.Errorf("unsupported content type: %s", contentType)
	}
}

// ContentType returns the media type of the request body without parameters.
// Kafka records and requests without a Content-Type header are JSON.
func (c *Ctx) ContentType() ContentType {
	if c.Req == nil {
		return ContentTypeJSON
	}
	contentType := c.Req.Header.Get("Content-Type")
	if contentType == "" {
		return ContentTypeJSON
	}
	return ContentType(strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])))
}

// L logs the inbound request or record and returns the request logger.
func (c *Ctx) L(useCase string, masking ...logger.MaskingRule) *logger.Logger {
	c.Log.SetUseCase(useCase)

	if c.Req == nil {
		var topic string
		var body any
		if c.Msg != nil {
			topic = c.Msg.Topic
			body = string(c.Msg.Value)
			if m := map[string]any{}; json.Unmarshal(c.Msg.Value, &m) == nil {
				body = m
			}
		}
		c.Log.Info(logAction.CONSUMING(topic), map[string]any{
			"topic": topic,
			"body":  body,
		}, masking...)
		return c.Log
	}

	body := make(map[string]any)
	_ = c.Bind(&body)

	c.Log.Info(logAction.INBOUND(fmt.Sprintf("client %s %s server", c.Req.Method, c.Req.URL.String())), map[string]any{
		"method":  c.Req.Method,
		"url":     c.Req.URL.String(),
		"headers": c.Headers(),
		"query":   c.QueryString(),
		"body":    body,
		"remote":  c.Req.RemoteAddr,
	}, masking...)
	return c.Log
}

func (c *Ctx) Headers() map[string]string {
	headers := make(map[string]string)
	if c.Req == nil {
		return headers
	}
	for key, values := range c.Req.Header {
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}

func (c *Ctx) QueryString() map[string]string {
	queries := make(map[string]string)
	if c.Req == nil {
		return queries
	}
	for key, values := range c.Req.URL.Query() {
		if len(values) > 0 {
			queries[key] = values[0]
		} else {
			queries[key] = ""
		}
	}
	return queries
}

// JSON writes v with status code and flushes the summary record. For Kafka
// records there is no response to write; the result is only logged.
func (c *Ctx) JSON(code int, v any, masking ...logger.MaskingRule) {
	c.write(code, v, masking...)
	c.Log.Flush(code, c.statusMessage(code))
}

func (c *Ctx) JSONError(code int, v any, err error, masking ...logger.MaskingRule) {
	c.write(code, v, masking...)
	if err != nil {
		c.Log.AddMetadata("ErrorCode", err.Error())
	}
	c.Log.FlushError(code, c.statusMessage(code))
}

func (c *Ctx) write(code int, v any, masking ...logger.MaskingRule) {
	if c.Res != nil {
		c.Res.Header().Set("Content-Type", "application/json")
		c.Res.Header().Set(string(SessionID), c.Log.SessionID())
		c.Res.WriteHeader(code)
		_ = json.NewEncoder(c.Res).Encode(v)
	}

	var headers http.Header
	if c.Res != nil {
		headers = c.Res.Header()
	}
	c.Log.Info(logAction.OUTBOUND("server response to client"), map[string]any{
		"status":  code,
		"headers": headers,
		"body":    v,
	}, masking...)
}

func (c *Ctx) statusMessage(code int) string {
	msg := http.StatusText(code)
	if msg == "" {
		return "unknown_status"
	}
	return strings.ToLower(strings.ReplaceAll(msg, " ", "_"))
}

// parseJSON parses JSON content
func (c *Ctx) parseJSON(bodyBytes []byte, v any) error {
	if len(bodyBytes) == 0 {
		return fmt.Errorf("empty JSON body")
	}

	if err := json.Unmarshal(bodyBytes, v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// parseFormURLEncoded parses application/x-www-form-urlencoded content
func (c *Ctx) parseFormURLEncoded(bodyBytes []byte, v any) error {
	if len(bodyBytes) == 0 {
		return fmt.Errorf("empty form body")
	}

	values, err := url.ParseQuery(string(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to parse form data: %w", err)
	}

	switch target := v.(type) {
	case *map[string]string:
		result := make(map[string]string)
		for key, vals := range values {
			if len(vals) > 0 {
				result[key] = vals[0]
			}
		}
		*target = result

	case *map[string][]string:
		*target = values

	case *map[string]any:
		*target = valuesToMap(values)

	default:
		// Try to convert to JSON first, then unmarshal
		jsonData, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("failed to convert form data: %w", err)
		}
		if err := json.Unmarshal(jsonData, v); err != nil {
			return fmt.Errorf("failed to unmarshal form data to struct: %w", err)
		}
	}

	return nil
}

// parseMultipartForm parses multipart/form-data content
func (c *Ctx) parseMultipartForm(v any) error {
	// Parse multipart form (max 32MB in memory)
	if err := c.Req.ParseMultipartForm(32 << 20); err != nil {
		return fmt.Errorf("failed to parse multipart form: %w", err)
	}

	switch target := v.(type) {
	case *map[string]string:
		result := make(map[string]string)
		for key, vals := range c.Req.MultipartForm.Value {
			if len(vals) > 0 {
				result[key] = vals[0]
			}
		}
		*target = result

	case *map[string][]string:
		*target = c.Req.MultipartForm.Value

	case *map[string]any:
		*target = valuesToMap(c.Req.MultipartForm.Value)

	default:
		return fmt.Errorf("unsupported type for multipart form data")
	}

	return nil
}

// parsePlainText parses plain text content
func (c *Ctx) parsePlainText(bodyBytes []byte, v any) error {
	switch target := v.(type) {
	case *string:
		*target = string(bodyBytes)
	case *[]byte:
		*target = bodyBytes
	default:
		return fmt.Errorf("plain text can only be parsed into *string or *[]byte")
	}
	return nil
}

func valuesToMap(values map[string][]string) map[string]any {
	result := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 1 {
			result[key] = vals[0]
		} else {
			result[key] = vals
		}
	}
	return result
}
