package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dayuer/msgbridge-go/internal/bridge"
)

var (
	peerID    string
	peerAllow []string
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run a long-lived bridge with built-in echo, ping and stats handlers",
	Long: `Run a bridge on the configured transport until interrupted. Built-in actions:
  echo   returns its payload unchanged
  ping   returns "pong"
  stats  returns the bridge's diagnostic snapshot`,
	RunE: runPeer,
}

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.Flags().StringVar(&peerID, "id", "", "communication id (default: config, else random)")
	peerCmd.Flags().StringSliceVar(&peerAllow, "allow", nil, "accept messages only from these ids (repeatable)")
}

func runPeer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := appCfg
	if len(peerAllow) > 0 {
		cfg.Bridge.AllowedIDs = peerAllow
	}
	id := communicationID(peerID, cfg, "peer")

	b, closeBridge, err := openBridge(ctx, id, cfg)
	if err != nil {
		return err
	}
	defer closeBridge()

	if err := registerBuiltins(b); err != nil {
		return err
	}

	log.Info().Str("bridge", id).Str("transport", cfg.Transport.Kind).Msg("peer running")
	<-ctx.Done()

	stats, _ := json.Marshal(b.Stats())
	log.Info().Str("bridge", id).RawJSON("stats", stats).Msg("peer stopping")
	return nil
}

// registerBuiltins installs the peer's echo, ping and stats actions.
func registerBuiltins(b *bridge.Bridge) error {
	started := time.Now()
	handlers := map[string]bridge.HandlerFunc{
		"echo": func(_ context.Context, data json.RawMessage) (any, error) {
			return data, nil
		},
		"ping": func(context.Context, json.RawMessage) (any, error) {
			return "pong", nil
		},
		"stats": func(context.Context, json.RawMessage) (any, error) {
			stats := b.Stats()
			stats["uptimeSeconds"] = int(time.Since(started).Seconds())
			return stats, nil
		},
	}
	for action, fn := range handlers {
		if _, err := b.Handle(action, fn); err != nil {
			return fmt.Errorf("register %s: %w", action, err)
		}
	}
	return nil
}
