package kp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/pkg/kafka"
	"github.com/sing3demons/jwtnode/pkg/logger"
)

type MyHandler func(ctx *Ctx)
type Middleware func(http.Handler) http.Handler

type Microservice struct {
	config      *config.AppConfig
	mux         *http.ServeMux
	middlewares []Middleware
	kafka       *KafkaClient
	closers     []func() error
}

type IMicroservice interface {
	Start()
	GET(path string, handler MyHandler, middlewares ...Middleware)
	POST(path string, handler MyHandler, middlewares ...Middleware)
	Use(middleware Middleware)
	// Consume registers handler for records on topic. It is a no-op without a Kafka client.
	Consume(topic string, handler MyHandler)
	// OnShutdown registers fn to run after the server has stopped.
	OnShutdown(fn func() error)
	Handler() http.Handler
}

type Option func(*Microservice)

// WithKafka enables Kafka consumers. A nil client is ignored.
func WithKafka(client kafka.Client) Option {
	return func(m *Microservice) {
		if client == nil {
			return
		}
		m.kafka = newKafkaClient(client, m.config, logger.NewLoggerWithConfig(m.config.ServiceName, m.config.Version, &m.config.LoggerConfig))
		m.closers = append(m.closers, client.Close)
	}
}

func NewMicroservice(cfg *config.AppConfig, opts ...Option) IMicroservice {
	m := &Microservice{
		config: cfg,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Microservice) Handler() http.Handler {
	var handler http.Handler = m.mux
	for _, mw := range m.middlewares {
		handler = mw(handler)
	}
	return RecoverMiddleware(handler)
}

func (m *Microservice) Start() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := http.Server{
		Addr:         ":" + m.config.Port,
		Handler:      m.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup

	if m.kafka != nil {
		for topic, handler := range m.kafka.subscriptions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Printf("consuming topic %s", topic)
				m.kafka.startKafkaConsumer(ctx, topic, handler)
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server listen err: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	wg.Wait()

	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
	log.Println("server exited")
}

func (m *Microservice) Use(middleware Middleware) {
	m.middlewares = append(m.middlewares, middleware)
}

func (m *Microservice) Consume(topic string, handler MyHandler) {
	if m.kafka == nil || topic == "" {
		return
	}
	m.kafka.subscriptions[topic] = handler
}

func (m *Microservice) OnShutdown(fn func() error) {
	m.closers = append(m.closers, fn)
}

func (m *Microservice) preHandle(handler MyHandler, middlewares ...Middleware) http.HandlerFunc {
	final := func(w http.ResponseWriter, r *http.Request) {
		recoverHandler(newMuxContext(w, r, m.config), handler)
	}
	// Apply middlewares in reverse order (so the first is outermost)
	for i := len(middlewares) - 1; i >= 0; i-- {
		final = middlewares[i](http.HandlerFunc(final)).ServeHTTP
	}
	return final
}

func (m *Microservice) GET(path string, handler MyHandler, middlewares ...Middleware) {
	m.mux.HandleFunc(fmt.Sprintf("%s %s", http.MethodGet, path), m.preHandle(handler, middlewares...))
}

func (m *Microservice) POST(path string, handler MyHandler, middlewares ...Middleware) {
	m.mux.HandleFunc(fmt.Sprintf("%s %s", http.MethodPost, path), m.preHandle(handler, middlewares...))
}
