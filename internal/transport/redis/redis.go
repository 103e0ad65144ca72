// Package redis carries bridge frames over a Redis Pub/Sub channel, so peers
// in different processes or hosts share one broadcast channel.
//
// Pub/Sub echoes every publication back to the publisher's own subscription.
// Each frame is therefore wrapped with the publishing endpoint's origin id and
// an endpoint drops frames carrying its own origin.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dayuer/msgbridge-go/internal/envelope"
	"github.com/dayuer/msgbridge-go/internal/logging"
	"github.com/dayuer/msgbridge-go/internal/transport"
)

// DefaultChannel is the Pub/Sub channel used when none is configured.
const DefaultChannel = "msgbridge"

var (
	ErrClosed  = errors.New("redis: transport closed")
	ErrNotJSON = errors.New("redis: frame is not valid JSON")
)

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port
	Password string
	DB       int
	Channel  string
}

type wireFrame struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// Transport is a transport.Transport backed by one Pub/Sub channel.
type Transport struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	origin  string
	log     zerolog.Logger

	subs transport.Subscribers

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// Dial connects to Redis, subscribes to the configured channel and starts
// delivering frames published by other endpoints.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis: URL not configured")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connection failed: %w", err)
	}

	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so nothing published after Dial
	// returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	t := &Transport{
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		origin:  envelope.NewID(),
		log:     logging.Component("redis").With().Str("channel", channel).Logger(),
		done:    make(chan struct{}),
	}
	go t.readLoop()

	t.log.Info().Str("addr", opts.Addr).Msg("connected")
	return t, nil
}

func (t *Transport) readLoop() {
	defer close(t.done)
	for msg := range t.pubsub.Channel() {
		var f wireFrame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			// Foreign publisher on the same channel; hand the raw payload on.
			t.subs.Deliver([]byte(msg.Payload))
			continue
		}
		if f.Origin == t.origin {
			continue
		}
		if f.Origin == "" || len(f.Payload) == 0 {
			t.subs.Deliver([]byte(msg.Payload))
			continue
		}
		t.subs.Deliver(f.Payload)
	}
}

// Send publishes frame to the channel. Frames must be JSON documents.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if !json.Valid(frame) {
		return ErrNotJSON
	}
	data, err := json.Marshal(wireFrame{Origin: t.origin, Payload: frame})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := t.client.Publish(ctx, t.channel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// Subscribe registers fn for frames published by other endpoints.
func (t *Transport) Subscribe(fn func([]byte)) func() {
	return t.subs.Add(fn)
}

// Channel returns the Pub/Sub channel name.
func (t *Transport) Channel() string { return t.channel }

// Close unsubscribes and closes the Redis connection. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.pubsub.Close()
	select {
	case <-t.done:
	case <-time.After(3 * time.Second):
		t.log.Warn().Msg("read loop did not stop")
	}
	t.subs.Clear()
	if cerr := t.client.Close(); err == nil {
		err = cerr
	}
	t.log.Info().Msg("connection closed")
	return err
}
