package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// EventStream holds applied-command notifications for downstream readers.
	EventStream        = "PREDICT_EVENTS"
	EventSubjectPrefix = "predict.events."
)

// OutboundPublisher publishes applied commands to NATS. The publish channel
// drops when full, so subscribers that need every event read the command
// log instead.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	log       zerolog.Logger
}

// PublishedEvent is the outbound wire shape.
type PublishedEvent struct {
	Sequence       int64           `json:"sequence"`
	CommandType    string          `json:"command_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketID       *uint64         `json:"market_id,omitempty"`
	Caller         string          `json:"caller"`
	Timestamp      int64           `json:"timestamp"`
	Result         json.RawMessage `json:"result"`
	StateHash      string          `json:"state_hash"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out.Envelope); err != nil {
				op.log.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(NewPublishedEvent(env))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = op.js.Publish(ctx, EventSubject(env), data, jetstream.WithMsgID(env.IdempotencyKey))
	return err
}

// NewPublishedEvent converts an envelope into its outbound shape.
func NewPublishedEvent(env *event.Envelope) PublishedEvent {
	result := json.RawMessage(env.Result)
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	return PublishedEvent{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		MarketID:       env.MarketID,
		Caller:         env.Caller.String(),
		Timestamp:      env.Timestamp,
		Result:         result,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
	}
}

// EventSubject is predict.events.<CommandType>[.<market_id>].
func EventSubject(env *event.Envelope) string {
	subject := EventSubjectPrefix + env.CommandType.String()
	if env.MarketID != nil {
		subject += "." + strconv.FormatUint(*env.MarketID, 10)
	}
	return subject
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{EventSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
