package flow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/internal/database"
	"github.com/sing3demons/jwtnode/internal/message"
	"github.com/sing3demons/jwtnode/pkg/kafka"
	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/mlog"
)

type Output interface {
	Send(ctx context.Context, port Port, msg *message.Message) error
}

// Topics maps node ports to destination names. An empty name drops the port.
type Topics struct {
	Success string
	Error   string
}

func TopicsFor(cfg config.NodeConfig) Topics {
	return Topics{Success: cfg.SuccessTopic, Error: cfg.ErrorTopic}
}

func (t Topics) For(port Port) string {
	switch port {
	case PortSuccess:
		return t.Success
	case PortError:
		return t.Error
	default:
		return ""
	}
}

type KafkaOutput struct {
	client kafka.Client
	topics Topics
}

func NewKafkaOutput(client kafka.Client, topics Topics) *KafkaOutput {
	return &KafkaOutput{client: client, topics: topics}
}

func (o *KafkaOutput) Send(ctx context.Context, port Port, msg *message.Message) error {
	topic := o.topics.For(port)
	if topic == "" {
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	mlog.L(ctx).Info(logAction.PRODUCING(topic), map[string]any{"port": port.String()})
	return o.client.Publish(ctx, topic, body)
}

// RedisOutput publishes results on Redis channels named like the Kafka topics.
type RedisOutput struct {
	client database.IRedisClient
	topics Topics
}

func NewRedisOutput(client database.IRedisClient, topics Topics) *RedisOutput {
	return &RedisOutput{client: client, topics: topics}
}

func (o *RedisOutput) Send(ctx context.Context, port Port, msg *message.Message) error {
	channel := o.topics.For(port)
	if channel == "" {
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return o.client.Publish(ctx, channel, body)
}

// Outputs fans a message out to every output.
type Outputs []Output

func (outs Outputs) Send(ctx context.Context, port Port, msg *message.Message) error {
	var err error
	for _, o := range outs {
		err = errors.Join(err, o.Send(ctx, port, msg))
	}
	return err
}
