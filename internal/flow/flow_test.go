package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sing3demons/jwtnode/internal/config"
	"github.com/sing3demons/jwtnode/internal/database"
	"github.com/sing3demons/jwtnode/internal/jwks"
	"github.com/sing3demons/jwtnode/internal/keys"
	"github.com/sing3demons/jwtnode/internal/message"
	"github.com/sing3demons/jwtnode/internal/token"
	"github.com/sing3demons/jwtnode/pkg/kafka"
	"github.com/sing3demons/jwtnode/pkg/kp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv() *keys.Resolver {
	return &keys.Resolver{LookupEnv: func(string) (string, bool) { return "", false }}
}

func signConfig() config.NodeConfig {
	return config.NodeConfig{
		Name:      "jwt sign",
		Algorithm: "HS256",
		Expiry:    config.Expiry(time.Hour),
		Secret:    "s3cr3t",
		Input:     "payload",
		Output:    "token",
	}
}

func verifyConfig(input string) config.NodeConfig {
	return config.NodeConfig{
		Name:       "jwt verify",
		Algorithms: []string{"HS256"},
		Secret:     "s3cr3t",
		Input:      input,
		Output:     "claims",
	}
}

func signToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	msg := message.New(map[string]any{"payload": claims})
	port, err := NewSignNode(signConfig(), noEnv(), nil).Process(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, PortSuccess, port)
	tok, ok := msg.String("token")
	require.True(t, ok)
	return tok
}

type recordedSend struct {
	port Port
	msg  map[string]any
}

type recordingOutput struct {
	mu    sync.Mutex
	sends []recordedSend
	err   error
}

func (o *recordingOutput) Send(_ context.Context, port Port, msg *message.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sends = append(o.sends, recordedSend{port: port, msg: msg.Fields()})
	return o.err
}

type fakeKafka struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (f *fakeKafka) Publish(_ context.Context, topic string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	f.published[topic] = append(f.published[topic], value)
	return nil
}

func (f *fakeKafka) Subscribe(ctx context.Context, _ string) (*kafka.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeKafka) Close() error { return nil }

func TestSignNode_Process(t *testing.T) {
	tok := signToken(t, map[string]any{"sub": "u1"})

	res := token.NewVerifyEngine(token.VerifyConfig{Algorithms: []string{"HS256"}, Secret: "s3cr3t"}, noEnv(), nil).
		Verify(context.Background(), token.VerificationRequest{Token: tok})
	require.True(t, res.OK(), "%v", res.Failure)
	assert.Equal(t, "u1", res.Claims["sub"])
}

func TestSignNode_Failures(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"missing input", map[string]any{"other": 1}},
		{"option not an object", map[string]any{"payload": map[string]any{}, "option": "HS512"}},
		{"claims not an object", map[string]any{"payload": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := message.New(tt.fields)
			port, err := NewSignNode(signConfig(), noEnv(), nil).Process(context.Background(), msg)
			assert.Equal(t, PortNone, port)
			var signErr *token.SigningError
			assert.ErrorAs(t, err, &signErr)
			_, ok := msg.Get("token")
			assert.False(t, ok)
		})
	}
}

func TestSignNode_OptionOverrides(t *testing.T) {
	msg := message.New(map[string]any{
		"payload": map[string]any{"sub": "u1"},
		"option":  map[string]any{"issuer": "flow", "algorithm": "HS384"},
	})
	port, err := NewSignNode(signConfig(), noEnv(), nil).Process(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, PortSuccess, port)

	tok, _ := msg.String("token")
	res := token.NewVerifyEngine(token.VerifyConfig{Algorithms: []string{"HS384"}, Secret: "s3cr3t"}, noEnv(), nil).
		Verify(context.Background(), token.VerificationRequest{Token: tok})
	require.True(t, res.OK(), "%v", res.Failure)
	assert.Equal(t, "flow", res.Claims["iss"])
}

func TestVerifyNode_Process(t *testing.T) {
	tok := signToken(t, map[string]any{"sub": "u1"})

	t.Run("field input", func(t *testing.T) {
		msg := message.New(map[string]any{"payload": tok})
		port, err := NewVerifyNode(verifyConfig("payload"), noEnv(), nil).Process(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, PortSuccess, port)
		claims, _ := msg.Get("claims")
		assert.Equal(t, "u1", claims.(map[string]any)["sub"])
	})

	t.Run("bearer header", func(t *testing.T) {
		msg := message.New(map[string]any{
			"req": map[string]any{
				"headers": map[string]any{"authorization": "Bearer " + tok},
				"query":   map[string]any{"access_token": "ignored"},
			},
		})
		port, err := NewVerifyNode(verifyConfig(token.BearerField), noEnv(), nil).Process(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, PortSuccess, port)
		bearer, _ := msg.String(token.BearerField)
		assert.Equal(t, tok, bearer)
	})

	t.Run("invalid token", func(t *testing.T) {
		msg := message.New(map[string]any{"payload": tok + "x"})
		port, err := NewVerifyNode(verifyConfig("payload"), noEnv(), nil).Process(context.Background(), msg)
		assert.Equal(t, PortError, port)

		var failure *token.VerificationFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, token.KindInvalidSignature, failure.Kind)

		status, _ := msg.Get(message.FieldStatusCode)
		assert.Equal(t, http.StatusUnauthorized, status)
		payload, _ := msg.String(message.FieldPayload)
		assert.Contains(t, payload, string(token.KindInvalidSignature))
		_, ok := msg.Get("claims")
		assert.False(t, ok)
	})

	t.Run("no bearer anywhere", func(t *testing.T) {
		msg := message.New(map[string]any{})
		port, err := NewVerifyNode(verifyConfig(token.BearerField), noEnv(), nil).Process(context.Background(), msg)
		assert.Equal(t, PortError, port)
		var failure *token.VerificationFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, token.KindMalformed, failure.Kind)
	})
}

func TestVerifyNode_JWKSNotReadyFallsBackToSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := jwks.NewCache(srv.URL)
	cache.Start(context.Background())
	<-cache.Done()

	msg := message.New(map[string]any{"payload": signToken(t, map[string]any{"sub": "u1"})})
	port, err := NewVerifyNode(verifyConfig("payload"), noEnv(), cache).Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, PortSuccess, port)
}

func TestPipeline_Input(t *testing.T) {
	out := &recordingOutput{}
	sign := NewPipeline(NewSignNode(signConfig(), noEnv(), nil), out)
	verify := NewPipeline(NewVerifyNode(verifyConfig("payload"), noEnv(), nil), out)

	port, err := sign.Input(context.Background(), message.New(map[string]any{"payload": map[string]any{"sub": "u1"}}))
	require.NoError(t, err)
	assert.Equal(t, PortSuccess, port)

	port, err = sign.Input(context.Background(), message.New(map[string]any{}))
	assert.Error(t, err)
	assert.Equal(t, PortNone, port)

	port, err = verify.Input(context.Background(), message.New(map[string]any{"payload": "garbage"}))
	assert.Error(t, err)
	assert.Equal(t, PortError, port)

	require.Len(t, out.sends, 2)
	assert.Equal(t, PortSuccess, out.sends[0].port)
	assert.NotEmpty(t, out.sends[0].msg["token"])
	assert.Equal(t, PortError, out.sends[1].port)
	assert.Equal(t, http.StatusUnauthorized, out.sends[1].msg[message.FieldStatusCode])
}

func TestPipeline_OutputError(t *testing.T) {
	out := &recordingOutput{err: errors.New("broker down")}
	p := NewPipeline(NewSignNode(signConfig(), noEnv(), nil), out)

	port, err := p.Input(context.Background(), message.New(map[string]any{"payload": map[string]any{}}))
	assert.Equal(t, PortSuccess, port)
	assert.ErrorContains(t, err, "broker down")
}

func TestKafkaOutput_Send(t *testing.T) {
	client := &fakeKafka{}
	out := NewKafkaOutput(client, Topics{Success: "sign.success", Error: "sign.error"})

	msg := message.New(map[string]any{"payload": "x"})
	require.NoError(t, out.Send(context.Background(), PortSuccess, msg))
	require.NoError(t, out.Send(context.Background(), PortError, msg))
	require.NoError(t, out.Send(context.Background(), PortNone, msg))

	require.Len(t, client.published["sign.success"], 1)
	require.Len(t, client.published["sign.error"], 1)
	assert.JSONEq(t, `{"payload":"x"}`, string(client.published["sign.success"][0]))
}

func TestRedisOutput_Send(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := database.NewRedisClient(context.Background(), &config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rc.Close()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(context.Background(), "verify.error")
	defer sub.Close()
	_, err = sub.Receive(context.Background())
	require.NoError(t, err)

	out := NewRedisOutput(rc, Topics{Error: "verify.error"})
	msg := message.New(map[string]any{"payload": "TokenExpired: token is expired", "statusCode": 401})
	require.NoError(t, out.Send(context.Background(), PortError, msg))
	// no success channel configured
	require.NoError(t, out.Send(context.Background(), PortSuccess, msg))

	select {
	case m := <-sub.Channel():
		assert.JSONEq(t, `{"payload":"TokenExpired: token is expired","statusCode":401}`, m.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestOutputs_Send(t *testing.T) {
	a := &recordingOutput{}
	b := &recordingOutput{err: errors.New("b failed")}
	err := Outputs{a, b}.Send(context.Background(), PortSuccess, message.New(nil))
	assert.ErrorContains(t, err, "b failed")
	assert.Len(t, a.sends, 1)
	assert.Len(t, b.sends, 1)
}

func TestTopicsFor(t *testing.T) {
	topics := TopicsFor(config.NodeConfig{SuccessTopic: "s", ErrorTopic: "e"})
	assert.Equal(t, "s", topics.For(PortSuccess))
	assert.Equal(t, "e", topics.For(PortError))
	assert.Equal(t, "", topics.For(PortNone))
	assert.Equal(t, "success", PortSuccess.String())
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.AppConfig{ServiceName: "jwt-node-test", Version: "test"}
	sign := NewPipeline(NewSignNode(signConfig(), noEnv(), nil), nil)
	verify := NewPipeline(NewVerifyNode(verifyConfig(token.BearerField), noEnv(), nil), nil)
	h := NewHandler(sign, verify, signConfig(), verifyConfig(token.BearerField))

	app := kp.NewMicroservice(cfg)
	app.POST("/sign", h.SignHandler)
	app.POST("/verify", h.VerifyHandler)
	return app.Handler()
}

func TestHandler_SignThenVerify(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/sign", bytes.NewBufferString(`{"payload":{"sub":"u1"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var signed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signed))
	tok, ok := signed["token"].(string)
	require.True(t, ok)

	req = httptest.NewRequest(http.MethodPost, "/verify", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var verified map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	assert.Equal(t, "u1", verified["claims"].(map[string]any)["sub"])
	assert.Equal(t, tok, verified["bearer"])
}

func TestHandler_VerifyFormAccessToken(t *testing.T) {
	srv := newTestServer(t)
	tok := signToken(t, map[string]any{"sub": "u1"})

	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewBufferString("access_token="+tok))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHandler_VerifyRejected(t *testing.T) {
	srv := newTestServer(t)
	expired := signToken(t, map[string]any{"exp": time.Now().Add(-time.Minute).Unix()})

	req := httptest.NewRequest(http.MethodPost, "/verify?access_token="+expired, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(http.StatusUnauthorized), body["statusCode"])
	assert.Contains(t, body["payload"], string(token.KindTokenExpired))
}

func TestHandler_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		wantMessage string
	}{
		{name: "broken JSON", path: "/sign", contentType: "application/json", body: `{broken`},
		{name: "XML body", path: "/verify", contentType: "application/xml", body: `<access_token>x</access_token>`},
		{name: "missing input", path: "/sign", contentType: "application/json", body: `{"other":true}`, wantMessage: errInputMissing.Error()},
		{name: "option not an object", path: "/sign", contentType: "application/json", body: `{"payload":{"sub":"u1"},"option":"HS512"}`, wantMessage: errOptionNotObject.Error()},
		{name: "claims not an object", path: "/sign", contentType: "application/json", body: `{"payload":42}`, wantMessage: token.ErrClaimsNotObject.Error()},
		{name: "plain text that is not JSON", path: "/sign", contentType: "text/plain", body: `sub=u1`, wantMessage: token.ErrClaimsNotObject.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "invalid_request", body["error"])
			if tt.wantMessage != "" {
				assert.Contains(t, body["message"], tt.wantMessage)
			}
		})
	}
}

func TestHandler_SignFailureIsServerError(t *testing.T) {
	cfg := &config.AppConfig{ServiceName: "jwt-node-test", Version: "test"}
	broken := signConfig()
	broken.Algorithm = "RS256"
	broken.KeyPath = "/does/not/exist.pem"
	h := NewHandler(NewPipeline(NewSignNode(broken, noEnv(), nil), nil), nil, broken, verifyConfig("payload"))

	app := kp.NewMicroservice(cfg)
	app.POST("/sign", h.SignHandler)

	req := httptest.NewRequest(http.MethodPost, "/sign", bytes.NewBufferString(`{"payload":{"sub":"u1"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sign_failed", body["error"])
}

func TestHandler_PlainTextBodies(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/sign", bytes.NewBufferString(`{"sub":"u1"}`))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var signed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signed))
	tok, ok := signed["token"].(string)
	require.True(t, ok)

	req = httptest.NewRequest(http.MethodPost, "/verify", bytes.NewBufferString(tok+"\n"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var verified map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	assert.Equal(t, "u1", verified["claims"].(map[string]any)["sub"])
	assert.Equal(t, tok, verified["bearer"])
}

func TestHandler_PlainTextIntoConfiguredInput(t *testing.T) {
	cfg := &config.AppConfig{ServiceName: "jwt-node-test", Version: "test"}
	verifyCfg := verifyConfig("jwt")
	h := NewHandler(nil, NewPipeline(NewVerifyNode(verifyCfg, noEnv(), nil), nil), signConfig(), verifyCfg)

	app := kp.NewMicroservice(cfg)
	app.POST("/verify", h.VerifyHandler)

	tok := signToken(t, map[string]any{"sub": "u2"})
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewBufferString(tok))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var verified map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	assert.Equal(t, tok, verified["jwt"])
	assert.Equal(t, "u2", verified["claims"].(map[string]any)["sub"])
}
