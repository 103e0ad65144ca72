package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/dayuer/msgbridge-go/internal/bridge"
	"github.com/dayuer/msgbridge-go/internal/config"
	"github.com/dayuer/msgbridge-go/internal/transport"
	"github.com/dayuer/msgbridge-go/internal/transport/redis"
	"github.com/dayuer/msgbridge-go/internal/transport/ws"
)

var errMemoryTransport = errors.New("the memory transport only connects bridges inside one process; use redis or websocket (or try `msgbridge demo`)")

// openTransport connects to the broadcast channel selected by cfg.
// The returned close func releases the connection.
func openTransport(ctx context.Context, cfg config.Config) (transport.Transport, func() error, error) {
	switch cfg.Transport.Kind {
	case config.KindRedis:
		rc := cfg.Transport.Redis
		t, err := redis.Dial(ctx, redis.Config{
			URL:      rc.URL,
			Password: rc.Password,
			DB:       rc.DB,
			Channel:  rc.Channel,
		})
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	case config.KindWebSocket:
		wc := cfg.Transport.WebSocket
		token := wc.Token
		if token == "" {
			token = os.Getenv("MSGBRIDGE_TOKEN")
		}
		c, err := ws.Dial(ctx, wc.URL, token)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case config.KindMemory:
		return nil, nil, errMemoryTransport
	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// bridgeOptions maps the bridge section of cfg to bridge.Options.
func bridgeOptions(cfg config.Config) bridge.Options {
	bc := cfg.Bridge
	return bridge.Options{
		AllowedIDs:             bc.AllowedIDs,
		MessageType:            bc.MessageType,
		RequestTimeout:         bc.RequestTimeout(),
		HandshakeTimeout:       bc.HandshakeTimeout(),
		HandshakeRetryInterval: bc.HandshakeRetryInterval(),
		MaxHandshakeAttempts:   bc.MaxHandshakeAttempts,
	}
}

// communicationID picks the bridge id: flag, then config, then a random
// prefix-xxxxxxxx id.
func communicationID(flag string, cfg config.Config, prefix string) string {
	if flag != "" {
		return flag
	}
	if cfg.Bridge.CommunicationID != "" {
		return cfg.Bridge.CommunicationID
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + id[:8]
}

// openBridge connects the configured transport and builds a bridge on it.
// The returned close func destroys the bridge, then the transport.
func openBridge(ctx context.Context, id string, cfg config.Config) (*bridge.Bridge, func(), error) {
	t, closeTransport, err := openTransport(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	b, err := bridge.New(id, t, bridgeOptions(cfg))
	if err != nil {
		_ = closeTransport()
		return nil, nil, err
	}
	return b, func() {
		b.Destroy()
		_ = closeTransport()
	}, nil
}
