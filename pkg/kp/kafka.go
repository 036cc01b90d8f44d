package kp

import (
	"context"
	"errors"
	"time"

	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/pkg/kafka"
	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/logger"
)

const defaultConsumerBackoff = time.Second

type KafkaClient struct {
	kafkaClient   kafka.Client
	subscriptions map[string]MyHandler
	config        *config.AppConfig
	log           *logger.Logger
	backoff       time.Duration
}

func newKafkaClient(kafkaClient kafka.Client, cfg *config.AppConfig, log *logger.Logger) *KafkaClient {
	return &KafkaClient{
		kafkaClient:   kafkaClient,
		subscriptions: make(map[string]MyHandler),
		config:        cfg,
		log:           log,
		backoff:       defaultConsumerBackoff,
	}
}

// startKafkaConsumer handles records from topic until ctx is done. A failed
// subscription is logged and retried after kc.backoff.
func (kc *KafkaClient) startKafkaConsumer(ctx context.Context, topic string, handler MyHandler) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := kc.handleSubscription(ctx, topic, handler)
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}

		kc.log.Error(logAction.CONSUMING(topic), map[string]any{
			"topic": topic,
			"error": err.Error(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(kc.backoff):
		}
	}
}

func (kc *KafkaClient) handleSubscription(ctx context.Context, topic string, handler MyHandler) error {
	msg, err := kc.kafkaClient.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	if msg == nil {
		return nil
	}

	recoverHandler(newConsumerContext(ctx, msg, kc.config), handler)

	if msg.Committer != nil {
		msg.Commit()
	}

	return nil
}
