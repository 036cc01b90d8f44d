package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sing3demons/jwtnode/pkg/kafka"
	"github.com/sing3demons/jwtnode/pkg/logger"
)

// Secret encodings accepted by NodeConfig.SecretEncoding.
const (
	EncodingPlain     = "plain"
	EncodingBase64URL = "base64url"
)

type AppConfig struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"jwt-node"`
	Version     string `env:"VERSION" envDefault:"1.0.0"`
	Port        string `env:"PORT" envDefault:"8080"`

	LoggerConfig logger.LoggerConfig `envPrefix:"LOG_"`
	KafkaConfig  kafka.Config        `envPrefix:"KAFKA_"`
	RedisConfig  RedisConfig         `envPrefix:"REDIS_"`

	Sign   NodeConfig `envPrefix:"SIGN_"`
	Verify NodeConfig `envPrefix:"VERIFY_"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" json:"addr"`
	Password string `env:"PASSWORD" json:"password"`
	DB       int    `env:"DB" json:"db"`
}

// NodeConfig is the configuration of a single jwt sign or jwt verify node.
// Input and Output name the message fields the node reads from and writes to.
type NodeConfig struct {
	Name           string        `env:"NAME"`
	Algorithm      string        `env:"ALG" envDefault:"HS256" validate:"omitempty,oneof=HS256 HS384 HS512 RS256 RS384 RS512 ES256 ES384 ES512"`
	Algorithms     []string      `env:"ALGS" envSeparator:"," envDefault:"HS256" validate:"dive,oneof=HS256 HS384 HS512 RS256 RS384 RS512 ES256 ES384 ES512"`
	Expiry         Expiry        `env:"EXP" envDefault:"1h"`
	KeyID          string        `env:"KID"`
	Secret         string        `env:"SECRET"`
	SecretEncoding string        `env:"SECRET_ENCODING" envDefault:"plain" validate:"oneof=plain base64url"`
	KeyPath        string        `env:"KEY"`
	JwksURL        string        `env:"JWK_URL" validate:"omitempty,url"`
	JwksTimeout    time.Duration `env:"JWK_TIMEOUT" envDefault:"10s" validate:"gte=0"`
	Input          string        `env:"INPUT" envDefault:"payload" validate:"required"`
	Output         string        `env:"OUTPUT" envDefault:"payload" validate:"required"`

	Topic        string `env:"TOPIC"`
	SuccessTopic string `env:"SUCCESS_TOPIC"`
	ErrorTopic   string `env:"ERROR_TOPIC"`
}

// Expiry is a token lifetime. It accepts integer seconds ("3600") or a
// Go duration ("1h30m").
type Expiry time.Duration

func ParseExpiry(s string) (Expiry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Expiry(time.Duration(secs) * time.Second), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid expiry %q", s)
	}
	return Expiry(d), nil
}

func (e *Expiry) UnmarshalText(text []byte) error {
	v, err := ParseExpiry(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func (e Expiry) Duration() time.Duration { return time.Duration(e) }

// UsesJWKS reports whether the node is configured to fetch a JWK Set.
func (n NodeConfig) UsesJWKS() bool { return n.JwksURL != "" }

// NewConfigManager loads .env (if present) and the process environment.
func NewConfigManager() (*AppConfig, error) {
	_ = godotenv.Load()
	return Parse(env.Options{})
}

// Parse reads configuration using opts; tests pass opts.Environment to avoid the real environment.
func Parse(opts env.Options) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.LoadDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *AppConfig) LoadDefaults() {
	if cfg.Sign.Name == "" {
		cfg.Sign.Name = "jwt sign"
	}
	if cfg.Verify.Name == "" {
		cfg.Verify.Name = "jwt verify"
	}
	if cfg.LoggerConfig.Summary.Path == "" {
		cfg.LoggerConfig.Summary.Path = "./logs/summary/"
	}
	if cfg.LoggerConfig.Detail.Path == "" {
		cfg.LoggerConfig.Detail.Path = "./logs/detail/"
	}
	for _, n := range []*NodeConfig{&cfg.Sign, &cfg.Verify} {
		if n.Topic == "" {
			continue
		}
		if n.SuccessTopic == "" {
			n.SuccessTopic = n.Topic + ".success"
		}
		if n.ErrorTopic == "" {
			n.ErrorTopic = n.Topic + ".error"
		}
	}
}

var validate = validator.New()

func (cfg *AppConfig) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Sign.Algorithm == "" {
		return errors.New("invalid config: sign node requires an algorithm")
	}
	if len(cfg.Verify.Algorithms) == 0 && !cfg.Verify.UsesJWKS() {
		return errors.New("invalid config: verify node requires an algorithm allow-list")
	}
	return nil
}
