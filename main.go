package main

import (
	"context"
	"log"

	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/internal/database"
	"github.com/sing3demons/jwtnode/internal/flow"
	"github.com/sing3demons/jwtnode/internal/jwks"
	"github.com/sing3demons/jwtnode/internal/keys"
	"github.com/sing3demons/jwtnode/pkg/kafka"
	"github.com/sing3demons/jwtnode/pkg/kp"
	"github.com/sing3demons/jwtnode/pkg/logger"
)

func main() {
	cfg, err := config.NewConfigManager()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLog := logger.NewLoggerWithConfig(cfg.ServiceName, cfg.Version, &cfg.LoggerConfig)
	ctx := logger.SetLogger(context.Background(), appLog)

	var kafkaClient kafka.Client
	if cfg.KafkaConfig.Enabled() {
		kafkaClient = kafka.New(&cfg.KafkaConfig, appLog)
	}

	var redisClient database.IRedisClient
	if cfg.RedisConfig.Addr != "" {
		redisClient, err = database.NewRedisClient(ctx, &cfg.RedisConfig)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
	}

	signCache := startCache(ctx, cfg.Sign)
	verifyCache := startCache(ctx, cfg.Verify)

	resolver := keys.NewResolver()
	signPipeline := flow.NewPipeline(
		flow.NewSignNode(cfg.Sign, resolver, signCache),
		outputsFor(cfg.Sign, kafkaClient, redisClient),
	)
	verifyPipeline := flow.NewPipeline(
		flow.NewVerifyNode(cfg.Verify, resolver, verifyCache),
		outputsFor(cfg.Verify, kafkaClient, redisClient),
	)

	app := kp.NewMicroservice(cfg, kp.WithKafka(kafkaClient))
	if redisClient != nil {
		app.OnShutdown(redisClient.Close)
	}

	handler := flow.NewHandler(signPipeline, verifyPipeline, cfg.Sign, cfg.Verify)
	app.POST("/sign", handler.SignHandler)
	app.POST("/verify", handler.VerifyHandler)
	app.Consume(cfg.Sign.Topic, handler.SignHandler)
	app.Consume(cfg.Verify.Topic, handler.VerifyHandler)

	jwksHandler := jwks.NewHandler(verifyCache)
	app.GET("/.well-known/jwks.json", jwksHandler.JwksHandler)

	app.Start()
}

// startCache begins the one-time JWK Set fetch for a node, or returns nil when
// the node has no JWK URL.
func startCache(ctx context.Context, n config.NodeConfig) *jwks.Cache {
	if !n.UsesJWKS() {
		return nil
	}
	cache := jwks.NewCache(n.JwksURL, jwks.WithTimeout(n.JwksTimeout))
	cache.Start(ctx)
	return cache
}

func outputsFor(n config.NodeConfig, kafkaClient kafka.Client, redisClient database.IRedisClient) flow.Output {
	topics := flow.TopicsFor(n)
	var outs flow.Outputs
	if kafkaClient != nil {
		outs = append(outs, flow.NewKafkaOutput(kafkaClient, topics))
	}
	if redisClient != nil {
		outs = append(outs, flow.NewRedisOutput(redisClient, topics))
	}
	if len(outs) == 0 {
		return nil
	}
	return outs
}
