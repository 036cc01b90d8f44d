package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/logger"
)

var (
	ErrConsumerGroupNotProvided = errors.New("consumer group id not provided")
	errFailedToConnectBrokers   = errors.New("failed to connect to any kafka brokers")
	errPublisherNotConfigured   = errors.New("publisher not configured or topic is empty")
	errClientNotConnected       = errors.New("kafka client not connected")
	errClientClosed             = errors.New("kafka client closed")
)

const (
	DefaultBatchSize    = 100
	DefaultBatchBytes   = 1048576
	DefaultBatchTimeout = 1000
	defaultRetryTimeout = 10 * time.Second
)

type Config struct {
	Brokers          []string  `env:"BROKERS" envSeparator:","`
	ConsumerGroupID  string    `env:"GROUP_ID" envDefault:"jwt-node"`
	OffSet           int       `env:"OFFSET"`
	BatchSize        int       `env:"BATCH_SIZE" envDefault:"100"`
	BatchBytes       int       `env:"BATCH_BYTES" envDefault:"1048576"`
	BatchTimeout     int       `env:"BATCH_TIMEOUT_MS" envDefault:"1000"`
	SASLMechanism    string    `env:"SASL_MECHANISM"`
	SASLUser         string    `env:"SASL_USER"`
	SASLPassword     string    `env:"SASL_PASSWORD"`
	SecurityProtocol string    `env:"SECURITY_PROTOCOL" envDefault:"PLAINTEXT"`
	TLS              TLSConfig `envPrefix:"TLS_"`
}

type TLSConfig struct {
	CertFile           string `env:"CERT_FILE"`
	KeyFile            string `env:"KEY_FILE"`
	CACertFile         string `env:"CA_CERT_FILE"`
	InsecureSkipVerify bool   `env:"INSECURE_SKIP_VERIFY"`
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

type kafkaClient struct {
	mu     sync.RWMutex
	dialer *kafka.Dialer
	writer Writer
	reader map[string]Reader
	config Config
	log    *logger.Logger

	retryInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	closed        bool
}

type kafkaMessage struct {
	msg    *kafka.Message
	reader Reader
}

// New connects to the configured brokers. A failed first connection is retried
// in the background until Close; nil is returned for an unusable configuration,
// including SASL or TLS settings that cannot be loaded.
func New(conf *Config, log *logger.Logger) Client {
	if conf == nil || len(conf.Brokers) == 0 || conf.BatchSize <= 0 || conf.BatchBytes <= 0 || conf.BatchTimeout <= 0 {
		return nil
	}
	if conf.SecurityProtocol == "" {
		conf.SecurityProtocol = "PLAINTEXT"
	}
	if log == nil {
		log = logger.NewNop()
	}
	client := &kafkaClient{
		config:        *conf,
		reader:        make(map[string]Reader),
		log:           log,
		retryInterval: defaultRetryTimeout,
		stop:          make(chan struct{}),
	}

	dialer, err := client.setupDialer()
	if err != nil {
		log.Error(logAction.EXCEPTION("kafka setup"), map[string]any{
			"brokers": conf.Brokers,
			"error":   err.Error(),
		})
		return nil
	}
	if err := client.connect(context.Background(), dialer); err != nil {
		log.Warn(logAction.WARN("kafka connect"), map[string]any{
			"brokers": conf.Brokers,
			"error":   err.Error(),
		})
		go client.retryConnect(dialer)
	}
	return client
}

func (k *kafkaClient) connect(ctx context.Context, dialer *kafka.Dialer) error {
	if err := probeBrokers(ctx, k.config.Brokers, dialer); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errClientClosed
	}
	k.dialer = dialer
	k.writer = kafka.NewWriter(kafka.WriterConfig{
		Brokers:      k.config.Brokers,
		Dialer:       dialer,
		BatchSize:    k.config.BatchSize,
		BatchBytes:   k.config.BatchBytes,
		BatchTimeout: time.Duration(k.config.BatchTimeout) * time.Millisecond,
	})
	return nil
}

func (k *kafkaClient) setupDialer() (*kafka.Dialer, error) {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	protocol := strings.ToUpper(k.config.SecurityProtocol)

	if protocol == "SASL_PLAINTEXT" || protocol == "SASL_SSL" {
		mech, err := getSASLMechanism(k.config.SASLMechanism, k.config.SASLUser, k.config.SASLPassword)
		if err != nil {
			return nil, err
		}
		dialer.SASLMechanism = mech
	}
	if protocol == "SSL" || protocol == "SASL_SSL" {
		tlsConfig, err := createTLSConfig(&k.config.TLS)
		if err != nil {
			return nil, err
		}
		dialer.TLS = tlsConfig
	}
	return dialer, nil
}

func (k *kafkaClient) retryConnect(dialer *kafka.Dialer) {
	ticker := time.NewTicker(k.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
		}

		err := k.connect(context.Background(), dialer)
		switch {
		case err == nil:
			k.log.Info(logAction.PRODUCING("kafka connected"), map[string]any{"brokers": k.config.Brokers})
			return
		case errors.Is(err, errClientClosed):
			return
		default:
			k.log.Warn(logAction.WARN("kafka connect"), map[string]any{
				"brokers": k.config.Brokers,
				"error":   err.Error(),
			})
		}
	}
}

func (k *kafkaClient) isConnected() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.dialer != nil && k.writer != nil
}

func probeBrokers(ctx context.Context, brokers []string, dialer *kafka.Dialer) error {
	for _, broker := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			conn.Close()
			return nil
		}
	}
	return errFailedToConnectBrokers
}

func getSASLMechanism(mechanism, username, password string) (sasl.Mechanism, error) {
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		return plain.Mechanism{Username: username, Password: password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, username, password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, username, password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", mechanism)
	}
}

func createTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = pool
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func (k *kafkaClient) Publish(ctx context.Context, topic string, message []byte) error {
	k.mu.RLock()
	writer := k.writer
	k.mu.RUnlock()
	if writer == nil || topic == "" {
		return errPublisherNotConfigured
	}
	return writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: message, Time: time.Now()})
}

func (k *kafkaClient) Subscribe(ctx context.Context, topic string) (*Message, error) {
	if !k.isConnected() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-k.stop:
			return nil, errClientClosed
		case <-time.After(k.retryInterval):
		}
		return nil, errClientNotConnected
	}
	if k.config.ConsumerGroupID == "" {
		return nil, ErrConsumerGroupNotProvided
	}

	k.mu.Lock()
	if k.reader[topic] == nil {
		k.reader[topic] = kafka.NewReader(kafka.ReaderConfig{
			GroupID:     k.config.ConsumerGroupID,
			Brokers:     k.config.Brokers,
			Topic:       topic,
			MinBytes:    10e3,
			MaxBytes:    10e6,
			Dialer:      k.dialer,
			StartOffset: int64(k.config.OffSet),
		})
	}
	reader := k.reader[topic]
	k.mu.Unlock()

	msg, err := reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &Message{
		ctx: ctx, Topic: topic, Value: msg.Value,
		Committer: &kafkaMessage{msg: &msg, reader: reader},
	}, nil
}

func (k *kafkaClient) Close() (err error) {
	if k.stop != nil {
		k.stopOnce.Do(func() { close(k.stop) })
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	for _, r := range k.reader {
		err = errors.Join(err, r.Close())
	}
	if k.writer != nil {
		err = errors.Join(err, k.writer.Close())
	}
	return
}

func (km *kafkaMessage) Commit() {
	if km.reader != nil {
		_ = km.reader.CommitMessages(context.Background(), *km.msg)
	}
}

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Writer interface {
	WriteMessages(ctx context.Context, msg ...kafka.Message) error
	Close() error
}

// Client publishes node results and consumes node inputs.
type Client interface {
	Publish(ctx context.Context, topic string, message []byte) error
	Subscribe(ctx context.Context, topic string) (*Message, error)
	Close() error
}

type Committer interface{ Commit() }

type Message struct {
	ctx      context.Context
	Topic    string
	Value    []byte
	MetaData any
	Committer
}

func (m *Message) Context() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

func (m *Message) Body() (string, error) {
	if len(m.Value) == 0 {
		return "", errors.New("message value is empty")
	}
	return string(m.Value), nil
}
