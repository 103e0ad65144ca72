// Package config handles configuration loading, saving, and schema definition.
package config

import (
	"fmt"
	"time"

	"github.com/dayuer/msgbridge-go/internal/logging"
)

// Transport kinds.
const (
	KindMemory    = "memory"
	KindRedis     = "redis"
	KindWebSocket = "websocket"
)

// Config is the top-level msgbridge configuration.
// Uses camelCase keys so the same file works as JSON or YAML.
type Config struct {
	Bridge    BridgeConfig    `json:"bridge" yaml:"bridge"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Log       logging.Config  `json:"log" yaml:"log"`
}

// BridgeConfig holds per-bridge settings. Durations are milliseconds.
type BridgeConfig struct {
	CommunicationID          string   `json:"communicationId" yaml:"communicationId"`
	MessageType              string   `json:"messageType" yaml:"messageType"`
	AllowedIDs               []string `json:"allowedIds,omitempty" yaml:"allowedIds,omitempty"`
	RequestTimeoutMs         int      `json:"requestTimeoutMs" yaml:"requestTimeoutMs"`
	HandshakeTimeoutMs       int      `json:"handshakeTimeoutMs" yaml:"handshakeTimeoutMs"`
	HandshakeRetryIntervalMs int      `json:"handshakeRetryIntervalMs" yaml:"handshakeRetryIntervalMs"`
	MaxHandshakeAttempts     int      `json:"maxHandshakeAttempts" yaml:"maxHandshakeAttempts"`
}

func (c BridgeConfig) RequestTimeout() time.Duration { return ms(c.RequestTimeoutMs) }
func (c BridgeConfig) HandshakeTimeout() time.Duration { return ms(c.HandshakeTimeoutMs) }
func (c BridgeConfig) HandshakeRetryInterval() time.Duration {
	return ms(c.HandshakeRetryIntervalMs)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// TransportConfig selects the broadcast channel implementation.
type TransportConfig struct {
	Kind      string          `json:"kind" yaml:"kind"` // memory | redis | websocket
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
}

// RedisConfig holds Redis Pub/Sub settings.
type RedisConfig struct {
	URL      string `json:"url" yaml:"url"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
	Channel  string `json:"channel" yaml:"channel"`
}

// WebSocketConfig holds relay hub settings. Listen is used by the relay,
// URL and Token by peers.
type WebSocketConfig struct {
	URL    string `json:"url" yaml:"url"`
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`
	Listen string `json:"listen" yaml:"listen"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Bridge: BridgeConfig{
			MessageType:              "msgbridge",
			RequestTimeoutMs:         30000,
			HandshakeTimeoutMs:       500,
			HandshakeRetryIntervalMs: 1000,
			MaxHandshakeAttempts:     10,
		},
		Transport: TransportConfig{
			Kind: KindWebSocket,
			Redis: RedisConfig{
				URL:     "redis://127.0.0.1:6379",
				Channel: "msgbridge",
			},
			WebSocket: WebSocketConfig{
				URL:    "ws://127.0.0.1:8787/ws",
				Listen: ":8787",
			},
		},
		Log: logging.Config{Level: "info"},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Transport.Kind {
	case KindMemory, KindRedis, KindWebSocket:
	default:
		return fmt.Errorf("config: unknown transport kind %q", c.Transport.Kind)
	}
	b := c.Bridge
	for name, v := range map[string]int{
		"requestTimeoutMs":         b.RequestTimeoutMs,
		"handshakeTimeoutMs":       b.HandshakeTimeoutMs,
		"handshakeRetryIntervalMs": b.HandshakeRetryIntervalMs,
		"maxHandshakeAttempts":     b.MaxHandshakeAttempts,
	} {
		if v < 0 {
			return fmt.Errorf("config: bridge.%s must not be negative (got %d)", name, v)
		}
	}
	if c.Transport.Redis.DB < 0 {
		return fmt.Errorf("config: transport.redis.db must not be negative")
	}
	return nil
}
