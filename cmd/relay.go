package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/msgbridge-go/internal/transport/ws"
)

var (
	relayListen    string
	relayToken     string
	relayHeartbeat time.Duration
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the WebSocket relay hub peers connect to",
	Long: `Run a WebSocket hub that relays every frame to all other connected peers.
  /ws      peer connections (Authorization: Bearer <token> when a token is set)
  /health  liveness and connection count`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&relayListen, "listen", "", "listen address (default: config, else :8787)")
	relayCmd.Flags().StringVar(&relayToken, "token", "", "bearer token (or MSGBRIDGE_TOKEN env)")
	relayCmd.Flags().DurationVar(&relayHeartbeat, "heartbeat", 10*time.Second, "ping interval")
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve settings: CLI flag → config → env var
	wc := appCfg.Transport.WebSocket
	addr := relayListen
	if addr == "" {
		addr = wc.Listen
	}
	if addr == "" {
		addr = ":8787"
	}
	token := relayToken
	if token == "" {
		token = wc.Token
	}
	if token == "" {
		token = os.Getenv("MSGBRIDGE_TOKEN")
	}

	hub := ws.NewHub(ws.HubConfig{Token: token, Heartbeat: relayHeartbeat})
	return hub.ListenAndServe(ctx, addr)
}
