package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/events"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Broadcaster is the local fan-out a replica feeds.
type Broadcaster interface {
	Publish(u models.StateUpdate)
	CloseItem(itemID uuid.UUID)
}

// ConsumerConfig holds configuration for the JetStream consumer
type ConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string        // e.g., "auction.bids.>"
	MaxDeliver    int           // Max delivery attempts
	AckWait       time.Duration // How long to wait for ack
	MaxAckPending int           // Max messages pending ack
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConsumerConfig returns default JetStream consumer configuration
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "AUCTION_EVENTS",
		ConsumerName:  "auction-replica",
		SubjectFilter: "auction.bids.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// EventConsumer replays relayed events into a replica's mirror and hub.
type EventConsumer struct {
	mirror   *Mirror
	hub      Broadcaster
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   ConsumerConfig
}

func NewEventConsumer(ctx context.Context, mirror *Mirror, hub Broadcaster, config ConsumerConfig) (*EventConsumer, error) {
	nc, js, err := connect(config.URL, config.MaxReconnects, config.ReconnectWait)
	if err != nil {
		return nil, err
	}

	ec := &EventConsumer{
		mirror: mirror,
		hub:    hub,
		nc:     nc,
		js:     js,
		config: config,
	}

	if err := ec.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return ec, nil
}

func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.Stream(ctx, ec.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          ec.config.ConsumerName,
		Durable:       ec.config.ConsumerName,
		Description:   "Auction gateway replica consumer",
		FilterSubject: ec.config.SubjectFilter,
		// latest per item is enough; the mirror was just loaded from the store
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    ec.config.MaxDeliver,
		AckWait:       ec.config.AckWait,
		MaxAckPending: ec.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, ec.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", ec.config.ConsumerName).
			Str("stream", ec.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", ec.config.ConsumerName).
			Str("stream", ec.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	ec.consumer = consumer
	return nil
}

// Start begins consuming events from JetStream
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("starting relay consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := ec.Handle(msg.Data()); err != nil {
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process relayed event")
				// malformed payloads will not get better on redelivery
				if termErr := msg.Term(); termErr != nil {
					log.Error().Err(termErr).Msg("failed to TERM message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

// Handle applies one relayed envelope.
func (ec *EventConsumer) Handle(data []byte) error {
	env, err := events.Decode(data, nil)
	if err != nil {
		return err
	}

	switch env.Type {
	case events.TypeBidUpdated:
		var u models.StateUpdate
		if _, err := events.Decode(data, &u); err != nil {
			return err
		}
		if !ec.mirror.Apply(u) {
			log.Debug().
				Str("event_id", env.ID).
				Str("item_id", u.ItemID.String()).
				Msg("skipping stale relayed update")
			return nil
		}
		ec.hub.Publish(u)
	case events.TypeItemRemoved:
		var p events.ItemRemovedPayload
		if _, err := events.Decode(data, &p); err != nil {
			return err
		}
		// the mirror notifies the hub itself
		ec.mirror.ItemDeleted(p.ItemID)
	default:
		return fmt.Errorf("unknown relayed event type: %s", env.Type)
	}
	return nil
}

func (ec *EventConsumer) Connected() bool { return ec.nc.IsConnected() }

func (ec *EventConsumer) Close() {
	ec.nc.Close()
}
