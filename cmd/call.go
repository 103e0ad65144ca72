package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var (
	callID      string
	callNoWait  bool
	callTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <action> [json]",
	Short: "Invoke an action on a peer and print the result",
	Long: `Invoke <action> on whichever peer handles it and print the JSON result.
The optional payload is sent as JSON when it parses, otherwise as a string.
With --no-wait the request is sent fire-and-forget and nothing is printed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringVar(&callID, "id", "", "communication id (default: config, else random)")
	callCmd.Flags().BoolVar(&callNoWait, "no-wait", false, "send without waiting for a response")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "overall deadline (default: handshake budget plus request timeout)")
}

func runCall(cmd *cobra.Command, args []string) error {
	action := args[0]
	var data any
	if len(args) == 2 {
		data = payloadArg(args[1])
	}

	cfg := appCfg
	timeout := callTimeout
	if timeout <= 0 {
		bc := cfg.Bridge
		attempts := bc.MaxHandshakeAttempts
		if attempts <= 0 {
			attempts = 10
		}
		timeout = bc.RequestTimeout() +
			time.Duration(attempts)*(bc.HandshakeTimeout()+bc.HandshakeRetryInterval())
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	b, closeBridge, err := openBridge(ctx, communicationID(callID, cfg, "call"), cfg)
	if err != nil {
		return err
	}
	defer closeBridge()

	if callNoWait {
		return b.Send(action, data)
	}

	result, err := b.Invoke(ctx, action, data)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

// payloadArg returns raw as JSON when it parses, otherwise as a string.
func payloadArg(raw string) any {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	return raw
}

func printJSON(w io.Writer, data json.RawMessage) error {
	if len(data) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
