package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// CommandStream holds every inbound command.
	CommandStream = "PREDICT_COMMANDS"
	// commandConsumer is a single durable consumer so commands keep stream
	// order all the way into the processor.
	commandConsumer = "ledger-commands"
)

// RawCommand is an undecoded message from JetStream.
type RawCommand struct {
	Subject        string
	Stream         string
	StreamSequence uint64
	Data           []byte
	ReceivedAt     time.Time // becomes the command timestamp
	AckFunc        func() // message handed to the processor
	NakFunc        func() // redeliver later
	TermFunc       func() // never redeliver
}

// CommandSink accepts parsed commands. *core.Runner satisfies it.
type CommandSink interface {
	Enqueue(ctx context.Context, cmd event.Command) error
}

// NATSSubscriber consumes the command stream into rawChan.
type NATSSubscriber struct {
	js       jetstream.JetStream
	rawChan  chan<- RawCommand
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		log:     observability.NewLogger("nats-subscriber"),
	}
}

// Subscribe attaches the durable command consumer. Explicit ACK,
// max_deliver=5, ack_wait=30s, one message in flight to keep order.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       commandConsumer,
		FilterSubject: CommandSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", commandConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		// Receive time, not publish time: one message is in flight at a
		// time, so stamps follow stream order.
		raw := RawCommand{
			Subject:    msg.Subject(),
			Stream:     CommandStream,
			Data:       msg.Data(),
			ReceivedAt: time.Now(),
			AckFunc:    func() { _ = msg.Ack() },
			NakFunc:    func() { _ = msg.Nak() },
			TermFunc:   func() { _ = msg.Term() },
		}
		if md, err := msg.Metadata(); err == nil {
			raw.Stream = md.Stream
			raw.StreamSequence = md.Sequence.Stream
		}

		select {
		case ns.rawChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", commandConsumer, err)
	}

	ns.consumer = cc
	ns.log.Info().Str("subject", CommandSubjectPrefix+">").Str("consumer", commandConsumer).Msg("subscribed")
	return nil
}

// Stop stops the consumer.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.log.Info().Msg("NATS subscriber stopped")
}

// RunIngestionLoop parses raw commands and hands them to sink. A message is
// acked once the sink has accepted it, not after it is applied, so slow
// processing never trips AckWait and a full queue backs up into JetStream.
// Malformed messages are terminated.
func RunIngestionLoop(ctx context.Context, rawChan <-chan RawCommand, parser *Parser, sink CommandSink, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			cmd, err := parser.ParseRaw(raw)
			if err != nil {
				log.Warn().Err(err).Str("subject", raw.Subject).Uint64("stream_seq", raw.StreamSequence).
					Msg("dropping malformed command")
				if errors.Is(err, ErrMalformedCommand) {
					raw.TermFunc()
				} else {
					raw.NakFunc()
				}
				continue
			}

			if err := sink.Enqueue(ctx, cmd); err != nil {
				raw.NakFunc()
				return
			}
			raw.AckFunc()
		}
	}
}

// EnsureStreams creates the inbound command stream if it doesn't exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{CommandSubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("predictledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
