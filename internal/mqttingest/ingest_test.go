package mqttingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/core-go/internal/plugin"
	"hivemind/core-go/internal/registration"
)

type published struct {
	topic   string
	payload []byte
	qos     byte
}

type fakeConn struct {
	mu         sync.Mutex
	subscribed string
	handler    MessageHandler
	published  []published
	subErr     error
}

func (f *fakeConn) Subscribe(topic string, qos byte, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = topic
	f.handler = handler
	return nil
}

func (f *fakeConn) Publish(topic string, payload []byte, qos byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, payload: payload, qos: qos})
	return nil
}

func (f *fakeConn) last(t *testing.T) (string, map[string]any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.published)
	p := f.published[len(f.published)-1]
	var body map[string]any
	require.NoError(t, json.Unmarshal(p.payload, &body))
	return p.topic, body
}

type registrarFunc func(ctx context.Context, attrs plugin.Attributes) (registration.Result, error)

func (f registrarFunc) Register(ctx context.Context, attrs plugin.Attributes) (registration.Result, error) {
	return f(ctx, attrs)
}

func TestHandle_PublishesOutcome(t *testing.T) {
	conn := &fakeConn{}
	var got plugin.Attributes
	ing := New(zerolog.Nop(), conn, registrarFunc(func(ctx context.Context, attrs plugin.Attributes) (registration.Result, error) {
		got = attrs
		return registration.Result{Outcome: registration.OutcomeCreated, Device: registration.DeviceView{ID: "dev-1"}}, nil
	}), Options{QoS: 1})

	require.NoError(t, ing.Handle("hivemind/register/agent-7", []byte(`{"macs":["aa:bb:cc:dd:ee:01"],"port":8080}`)))

	assert.Equal(t, json.Number("8080"), got["port"])
	topic, body := conn.last(t)
	assert.Equal(t, "hivemind/register/agent-7/result", topic)
	assert.Equal(t, "created", body["outcome"])
	assert.Equal(t, "dev-1", body["device"].(map[string]any)["id"])
	assert.Nil(t, body["error"])
}

func TestHandle_Rejections(t *testing.T) {
	conn := &fakeConn{}
	ing := New(zerolog.Nop(), conn, registrarFunc(func(ctx context.Context, attrs plugin.Attributes) (registration.Result, error) {
		return registration.Result{}, &registration.ValidationError{Code: registration.CodeInvalidIP, Field: "ips", Message: "bad"}
	}), Options{})

	require.NoError(t, ing.Handle("hivemind/register/a", []byte(`{"ips":["x"]}`)))
	_, body := conn.last(t)
	e := body["error"].(map[string]any)
	assert.Equal(t, "invalid_ip", e["code"])
	assert.Equal(t, "ips", e["field"])

	require.NoError(t, ing.Handle("hivemind/register/a", []byte(`not json`)))
	_, body = conn.last(t)
	assert.Equal(t, "validation_failed", body["error"].(map[string]any)["code"])

	require.NoError(t, ing.Handle("hivemind/register/a", []byte(`[]`)))
	_, body = conn.last(t)
	assert.Equal(t, "validation_failed", body["error"].(map[string]any)["code"])
}

func TestHandle_InternalErrorIsNotLeaked(t *testing.T) {
	conn := &fakeConn{}
	ing := New(zerolog.Nop(), conn, registrarFunc(func(ctx context.Context, attrs plugin.Attributes) (registration.Result, error) {
		return registration.Result{}, errors.New("connection refused to 10.0.0.5")
	}), Options{})

	require.NoError(t, ing.Handle("hivemind/register/a", []byte(`{}`)))
	_, body := conn.last(t)
	e := body["error"].(map[string]any)
	assert.Equal(t, "internal_error", e["code"])
	assert.NotContains(t, e["message"], "10.0.0.5")
}

func TestHandle_IgnoresResultTopics(t *testing.T) {
	conn := &fakeConn{}
	called := false
	ing := New(zerolog.Nop(), conn, registrarFunc(func(ctx context.Context, attrs plugin.Attributes) (registration.Result, error) {
		called = true
		return registration.Result{}, nil
	}), Options{Topic: "hivemind/register/#"})

	require.NoError(t, ing.Handle("hivemind/register/a/result", []byte(`{}`)))
	assert.False(t, called)
	assert.Empty(t, conn.published)
}

func TestRun_SubscribesUntilCancelled(t *testing.T) {
	conn := &fakeConn{}
	ing := New(zerolog.Nop(), conn, registrarFunc(func(ctx context.Context, attrs plugin.Attributes) (registration.Result, error) {
		return registration.Result{Outcome: registration.OutcomeMatched}, nil
	}), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.handler != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, DefaultTopic, conn.subscribed)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_SubscribeError(t *testing.T) {
	conn := &fakeConn{subErr: ErrNotConnected}
	ing := New(zerolog.Nop(), conn, nil, Options{})
	err := ing.Run(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func TestWrapHandler_RecoversPanics(t *testing.T) {
	calls := 0
	h := wrapHandler(zerolog.Nop(), func(topic string, payload []byte) error {
		calls++
		panic("boom")
	})

	assert.NotPanics(t, func() {
		h(nil, fakeMessage{topic: "hivemind/register/a", payload: []byte(`{}`)})
	})
	assert.Equal(t, 1, calls)
}
