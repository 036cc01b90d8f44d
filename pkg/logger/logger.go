package logger

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sing3demons/jwtnode/pkg/logAction"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

type LogType string

const (
	TypeDetail  LogType = "detail"
	TypeSummary LogType = "summary"
)

type ctxKey struct{}

type DetailLog struct {
	Timestamp         string         `json:"timestamp"`
	Level             LogLevel       `json:"level"`
	Type              LogType        `json:"type"`
	Service           string         `json:"service"`
	Version           string         `json:"version"`
	TransactionID     string         `json:"transactionId,omitempty"`
	SessionID         string         `json:"sessionId,omitempty"`
	UseCase           string         `json:"useCase,omitempty"`
	Action            string         `json:"action,omitempty"`
	ActionDescription string         `json:"actionDescription,omitempty"`
	SubAction         string         `json:"subAction,omitempty"`
	Dependency        string         `json:"dependency,omitempty"`
	ResponseTime      int64          `json:"responseTime,omitempty"`
	Message           string         `json:"message,omitempty"`
	Duration          int64          `json:"duration,omitempty"`
	StatusCode        int            `json:"statusCode,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type LogOutputConfig struct {
	Path    string `env:"PATH"`
	Console bool   `env:"CONSOLE" envDefault:"true"`
	File    bool   `env:"FILE" envDefault:"false"`
}

type LoggerConfig struct {
	Summary LogOutputConfig `envPrefix:"SUMMARY_"`
	Detail  LogOutputConfig `envPrefix:"DETAIL_"`
	// Writer replaces stdout for console output when set.
	Writer io.Writer
}

// DependencyMetadata describes the downstream system a detail record talks to.
type DependencyMetadata struct {
	Dependency   string
	ResponseTime int64
	ResultCode   string
	ResultFlag   string
}

type Logger struct {
	service       string
	version       string
	config        *LoggerConfig
	transactionID string
	sessionID     string
	UseCase       string
	dependency    *DependencyMetadata
	startTime     time.Time

	mu       sync.Mutex
	metadata map[string]any
}

func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Summary: LogOutputConfig{
			Path:    "./logs/summary/",
			Console: true,
		},
		Detail: LogOutputConfig{
			Path:    "./logs/detail/",
			Console: true,
		},
	}
}

func NewLogger(service, version string) *Logger {
	return NewLoggerWithConfig(service, version, DefaultConfig())
}

func NewLoggerWithConfig(service, version string, config *LoggerConfig) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	return &Logger{
		service:   service,
		version:   version,
		config:    config,
		startTime: time.Now(),
		metadata:  make(map[string]any),
	}
}

// NewNop returns a logger that writes nowhere.
func NewNop() *Logger {
	return NewLoggerWithConfig("", "", &LoggerConfig{})
}

// SetLogger stores l in ctx.
func SetLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// GetLogger returns the logger stored in ctx, or nil.
func GetLogger(ctx context.Context) *Logger {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(ctxKey{}).(*Logger)
	return l
}

func (l *Logger) SetSessionID(sessionID string) {
	l.sessionID = sessionID
}

func (l *Logger) SessionID() string {
	return l.sessionID
}

func (l *Logger) SetTransactionID(transactionID string) {
	l.transactionID = transactionID
}

func (l *Logger) TransactionID() string {
	return l.transactionID
}

func (l *Logger) SetUseCase(useCase string) {
	l.UseCase = useCase
}

// SetDependencyMetadata tags the next detail record with dependency information.
func (l *Logger) SetDependencyMetadata(m DependencyMetadata) *Logger {
	l.mu.Lock()
	l.dependency = &m
	l.mu.Unlock()
	return l
}

func (l *Logger) write(log DetailLog) {
	log.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	log.Service = l.service
	log.Version = l.version
	log.UseCase = l.UseCase

	jsonLog, err := json.Marshal(log)
	if err != nil {
		return
	}
	jsonLog = append(jsonLog, '\n')

	var outputConfig LogOutputConfig
	if log.Type == TypeSummary {
		outputConfig = l.config.Summary
	} else {
		outputConfig = l.config.Detail
	}

	if outputConfig.Console {
		var w io.Writer = os.Stdout
		if l.config.Writer != nil {
			w = l.config.Writer
		}
		l.mu.Lock()
		w.Write(jsonLog)
		l.mu.Unlock()
	}

	if outputConfig.File {
		l.writeToFile(outputConfig.Path, log.Timestamp, jsonLog)
	}
}

func (l *Logger) writeToFile(basePath, timestamp string, data []byte) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return
	}

	// one file per day: YYYY-MM-DD.log
	filename := filepath.Join(basePath, timestamp[:10]) + ".log"

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	f.Write(data)
}

// Detail logs detailed information with optional data masking
func (l *Logger) Detail(level LogLevel, actionInfo logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	maskedData := data
	if len(maskingRules) > 0 {
		maskedData = MaskData(data, maskingRules)
	}

	log := DetailLog{
		Level:             level,
		Type:              TypeDetail,
		Action:            actionInfo.Action,
		ActionDescription: actionInfo.ActionDescription,
		SubAction:         actionInfo.SubAction,
		Message:           dataToString(maskedData),
		TransactionID:     l.transactionID,
		SessionID:         l.sessionID,
	}

	l.mu.Lock()
	if l.dependency != nil {
		log.Dependency = l.dependency.Dependency
		log.ResponseTime = l.dependency.ResponseTime
		l.dependency = nil
	}
	l.mu.Unlock()

	l.write(log)
}

func (l *Logger) Debug(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	l.Detail(LevelDebug, action, data, maskingRules...)
}

func (l *Logger) Info(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	l.Detail(LevelInfo, action, data, maskingRules...)
}

func (l *Logger) Warn(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	l.Detail(LevelWarn, action, data, maskingRules...)
}

func (l *Logger) Error(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	l.Detail(LevelError, action, data, maskingRules...)
}

// Flush writes a summary log with success status and resets the transaction state
func (l *Logger) Flush(statusCode int, message string) {
	l.summary(LevelInfo, statusCode, message)
}

// FlushError writes a summary log with error status and resets the transaction state
func (l *Logger) FlushError(statusCode int, message string) {
	l.summary(LevelError, statusCode, message)
}

func (l *Logger) summary(level LogLevel, statusCode int, message string) {
	l.mu.Lock()
	metadata := l.metadata
	l.metadata = make(map[string]any)
	l.mu.Unlock()

	l.write(DetailLog{
		Level:         level,
		Type:          TypeSummary,
		Message:       message,
		TransactionID: l.transactionID,
		SessionID:     l.sessionID,
		StatusCode:    statusCode,
		Duration:      time.Since(l.startTime).Milliseconds(),
		Metadata:      metadata,
	})
	l.startTime = time.Now()
}

// StartTransaction initializes a new transaction with IDs
func (l *Logger) StartTransaction(transactionID, sessionID string) {
	l.transactionID = transactionID
	l.sessionID = sessionID
	l.startTime = time.Now()
	l.mu.Lock()
	l.metadata = make(map[string]any)
	l.mu.Unlock()
}

// AddMetadata adds or overwrites a metadata key-value pair
func (l *Logger) AddMetadata(key string, value any) {
	l.mu.Lock()
	l.metadata[key] = value
	l.mu.Unlock()
}

// AddSuccess adds a value to metadata, turning the entry into a list on repeated keys.
func (l *Logger) AddSuccess(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, exists := l.metadata[key]
	if !exists {
		l.metadata[key] = value
		return
	}
	if arr, isArray := existing.([]any); isArray {
		l.metadata[key] = append(arr, value)
		return
	}
	l.metadata[key] = []any{existing, value}
}

func dataToString(data any) string {
	if data == nil {
		return ""
	}

	if str, ok := data.(string); ok {
		return str
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return ""
	}

	return string(jsonBytes)
}
