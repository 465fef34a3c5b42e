package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/events"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int           // Number of replicas for the stream
	DuplicateWindow time.Duration // Window for duplicate detection
	QueueSize       int           // outbound updates buffered before dropping
	PublishTimeout  time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "AUCTION_EVENTS",
		SubjectPrefix:   "auction.bids",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		QueueSize:       1024,
		PublishTimeout:  5 * time.Second,
	}
}

// Subject is where updates for one item are published.
func (c JetStreamConfig) Subject(itemID uuid.UUID) string {
	return fmt.Sprintf("%s.%s", c.SubjectPrefix, itemID)
}

type outbound struct {
	msgID  string
	itemID uuid.UUID
	data   []byte
}

// JetStreamPublisher forwards accepted transitions and item removals to
// JetStream so gateway replicas can fan them out. Publish only enqueues;
// Run does the network I/O.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	queue  chan outbound

	published atomic.Uint64
	dropped   atomic.Uint64
}

func connect(url string, maxReconnects int, reconnectWait time.Duration) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	nc, js, err := connect(cfg.URL, cfg.MaxReconnects, cfg.ReconnectWait)
	if err != nil {
		return nil, err
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	p := &JetStreamPublisher{nc: nc, js: js, config: cfg, queue: make(chan outbound, size)}

	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Accepted bids and item removals for gateway replicas",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}

	if _, err := p.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().
		Str("stream", p.config.StreamName).
		Str("subjects", sc.Subjects[0]).
		Msg("JetStream stream ready")
	return nil
}

// Publish implements bidding.Publisher. It never blocks; when the queue is
// full the update is dropped and replicas catch up from the next one.
func (p *JetStreamPublisher) Publish(u models.StateUpdate) {
	data, err := events.Encode(events.UpdateID(u), events.TypeBidUpdated, u.ItemID, u, u.At)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode bid update for relay")
		return
	}
	// dedupe key: one transition per (item, bid)
	p.enqueue(outbound{msgID: fmt.Sprintf("%s:%d", u.ItemID, u.CurrentBid), itemID: u.ItemID, data: data})
}

// PublishRemoval announces that an item was deleted.
func (p *JetStreamPublisher) PublishRemoval(itemID uuid.UUID) {
	id := uuid.NewString()
	data, err := events.Encode(id, events.TypeItemRemoved, itemID,
		events.ItemRemovedPayload{ItemID: itemID}, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode item removal for relay")
		return
	}
	p.enqueue(outbound{msgID: id, itemID: itemID, data: data})
}

func (p *JetStreamPublisher) enqueue(msg outbound) {
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		log.Warn().
			Str("item_id", msg.itemID.String()).
			Msg("relay queue full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled.
func (p *JetStreamPublisher) Run(ctx context.Context) error {
	log.Info().
		Str("stream", p.config.StreamName).
		Msg("starting relay publisher")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay publisher shutting down")
			return nil
		case msg := <-p.queue:
			p.send(ctx, msg)
		}
	}
}

func (p *JetStreamPublisher) send(ctx context.Context, msg outbound) {
	pubCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	ack, err := p.js.PublishMsg(pubCtx, &nats.Msg{
		Subject: p.config.Subject(msg.itemID),
		Data:    msg.data,
		Header: nats.Header{
			"Item-ID": []string{msg.itemID.String()},
		},
	}, jetstream.WithMsgID(msg.msgID))
	if err != nil {
		log.Error().
			Err(err).
			Str("item_id", msg.itemID.String()).
			Str("msg_id", msg.msgID).
			Msg("failed to publish to JetStream")
		return
	}
	p.published.Add(1)

	log.Debug().
		Str("stream", ack.Stream).
		Uint64("seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Str("msg_id", msg.msgID).
		Msg("relayed event")
}

// Connected reports whether the NATS connection is up.
func (p *JetStreamPublisher) Connected() bool { return p.nc.IsConnected() }

func (p *JetStreamPublisher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"published": p.published.Load(),
		"dropped":   p.dropped.Load(),
		"queued":    len(p.queue),
	}
}

func (p *JetStreamPublisher) Close() {
	p.nc.Close()
}
