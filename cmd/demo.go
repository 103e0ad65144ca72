package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/msgbridge-go/internal/bridge"
	"github.com/dayuer/msgbridge-go/internal/transport/memory"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Pair two bridges on an in-process bus and run a few calls",
	RunE:  runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	out := cmd.OutOrStdout()

	bus := memory.NewBus(0)
	go bus.Run(ctx)

	opts := bridgeOptions(appCfg)
	opts.AllowedIDs = nil
	opts.HandshakeRetryInterval = 50 * time.Millisecond

	hostEnd, guestEnd := bus.Endpoint(), bus.Endpoint()
	defer hostEnd.Close()
	defer guestEnd.Close()

	host, err := bridge.New("host", hostEnd, opts)
	if err != nil {
		return err
	}
	defer host.Destroy()
	guest, err := bridge.New("guest", guestEnd, opts)
	if err != nil {
		return err
	}
	defer guest.Destroy()

	if err := registerBuiltins(guest); err != nil {
		return err
	}
	if _, err := guest.Handle("greet", func(_ context.Context, data json.RawMessage) (any, error) {
		var who string
		if err := json.Unmarshal(data, &who); err != nil || who == "" {
			return nil, errors.New("greet expects a non-empty string")
		}
		return "hello, " + who, nil
	}); err != nil {
		return err
	}

	if err := host.WaitReady(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "host state: %s\n", host.State())

	calls := []struct {
		action string
		data   any
	}{
		{"echo", map[string]any{"n": 1, "tags": []string{"a", "b"}}},
		{"ping", nil},
		{"greet", "msgbridge"},
		{"greet", ""},
		{"missing", nil},
	}
	for _, c := range calls {
		result, err := host.Invoke(ctx, c.action, c.data)
		if err != nil {
			fmt.Fprintf(out, "%s -> error: %v\n", c.action, err)
			continue
		}
		fmt.Fprintf(out, "%s -> %s\n", c.action, result)
	}

	stats, err := host.Invoke(ctx, "stats", nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "guest stats:")
	return printJSON(out, stats)
}
