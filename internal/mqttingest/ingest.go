// Package mqttingest accepts registration reports published by agents over MQTT.
//
// An agent publishes a JSON attribute object to hivemind/register/<agent>; the outcome (or the
// rejection) is published back to hivemind/register/<agent>/result.
package mqttingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hivemind/core-go/internal/plugin"
	"hivemind/core-go/internal/registration"
)

const (
	DefaultTopic   = "hivemind/register/+"
	resultSuffix   = "/result"
	registerBudget = 15 * time.Second
)

type Registrar interface {
	Register(ctx context.Context, attrs plugin.Attributes) (registration.Result, error)
}

// Conn is the broker surface the ingester needs; *Client implements it.
type Conn interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

type Options struct {
	Topic string
	QoS   byte
}

type Ingester struct {
	log       zerolog.Logger
	conn      Conn
	registrar Registrar
	topic     string
	qos       byte

	// base is cancelled when Run returns; in-flight registrations observe it.
	base context.Context
}

func New(log zerolog.Logger, conn Conn, registrar Registrar, opts Options) *Ingester {
	if strings.TrimSpace(opts.Topic) == "" {
		opts.Topic = DefaultTopic
	}
	return &Ingester{
		log:       log,
		conn:      conn,
		registrar: registrar,
		topic:     opts.Topic,
		qos:       opts.QoS,
		base:      context.Background(),
	}
}

// Run subscribes and blocks until ctx is done.
func (i *Ingester) Run(ctx context.Context) error {
	i.base = ctx
	if err := i.conn.Subscribe(i.topic, i.qos, i.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", i.topic, err)
	}
	i.log.Info().Str("topic", i.topic).Msg("mqtt ingest subscribed")
	<-ctx.Done()
	return nil
}

type resultPayload struct {
	Outcome registration.Outcome     `json:"outcome,omitempty"`
	Device  *registration.DeviceView `json:"device,omitempty"`
	Error   *errorPayload            `json:"error,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Handle processes one report message and publishes its result.
func (i *Ingester) Handle(topic string, payload []byte) error {
	if strings.HasSuffix(topic, resultSuffix) {
		return nil
	}

	reply := i.process(payload)
	b, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := i.conn.Publish(topic+resultSuffix, b, i.qos, false); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

func (i *Ingester) process(payload []byte) resultPayload {
	attrs, err := decodeReport(payload)
	if err != nil {
		return resultPayload{Error: &errorPayload{Code: "validation_failed", Message: err.Error()}}
	}

	ctx, cancel := context.WithTimeout(i.base, registerBudget)
	defer cancel()

	res, err := i.registrar.Register(ctx, attrs)
	if err != nil {
		var ve *registration.ValidationError
		switch {
		case errors.As(err, &ve):
			return resultPayload{Error: &errorPayload{Code: ve.Code, Message: ve.Message, Field: ve.Field}}
		case errors.Is(err, registration.ErrValidation):
			return resultPayload{Error: &errorPayload{Code: "validation_failed", Message: err.Error()}}
		default:
			i.log.Error().Err(err).Msg("mqtt registration failed")
			return resultPayload{Error: &errorPayload{Code: "internal_error", Message: "registration failed"}}
		}
	}
	return resultPayload{Outcome: res.Outcome, Device: &res.Device}
}

func decodeReport(payload []byte) (plugin.Attributes, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var attrs plugin.Attributes
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("invalid json payload: %w", err)
	}
	if attrs == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	if dec.More() {
		return nil, errors.New("unexpected extra data after JSON payload")
	}
	return attrs, nil
}
