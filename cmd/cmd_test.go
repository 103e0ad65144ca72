package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/msgbridge-go/internal/config"
)

func TestPayloadArg(t *testing.T) {
	assert.Equal(t, json.RawMessage(`{"a":1}`), payloadArg(`{"a":1}`))
	assert.Equal(t, json.RawMessage(`42`), payloadArg(`42`))
	assert.Equal(t, "hello world", payloadArg("hello world"))
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, json.RawMessage(`{"a":[1,2]}`)))
	assert.Equal(t, "{\n  \"a\": [\n    1,\n    2\n  ]\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, printJSON(&buf, nil))
	assert.Equal(t, "null\n", buf.String())
}

func TestCommunicationID(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "flag", communicationID("flag", cfg, "peer"))

	cfg.Bridge.CommunicationID = "configured"
	assert.Equal(t, "configured", communicationID("", cfg, "peer"))

	cfg.Bridge.CommunicationID = ""
	id := communicationID("", cfg, "peer")
	assert.True(t, strings.HasPrefix(id, "peer-"))
	assert.Len(t, id, len("peer-")+8)
}

func TestBridgeOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bridge.AllowedIDs = []string{"x"}
	opts := bridgeOptions(cfg)
	assert.Equal(t, []string{"x"}, opts.AllowedIDs)
	assert.Equal(t, "msgbridge", opts.MessageType)
	assert.Equal(t, 30*time.Second, opts.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, opts.HandshakeTimeout)
	assert.Equal(t, time.Second, opts.HandshakeRetryInterval)
	assert.Equal(t, 10, opts.MaxHandshakeAttempts)
}

func TestOpenTransport_MemoryIsInProcessOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport.Kind = config.KindMemory
	_, _, err := openTransport(context.Background(), cfg)
	assert.ErrorIs(t, err, errMemoryTransport)
}

func TestDemoCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"transport": {"kind": "memory"}}`), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"demo", "--config", path, "--log-level", "off"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	got := out.String()
	assert.Contains(t, got, "host state: ready")
	assert.Contains(t, got, `ping -> "pong"`)
	assert.Contains(t, got, `greet -> "hello, msgbridge"`)
	assert.Contains(t, got, "greet -> error:")
	assert.Contains(t, got, `no handler registered for action "missing"`)
	assert.Contains(t, got, `"communicationId": "guest"`)
}

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		initForce = false
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out := runRoot(t, "init", "--config", path, "--log-level", "off")
	assert.Contains(t, out, "Created config at "+path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), loaded)

	custom := config.DefaultConfig()
	custom.Bridge.CommunicationID = "keep-me"
	require.NoError(t, config.Save(custom, path))

	out = runRoot(t, "init", "--config", path, "--log-level", "off")
	assert.Contains(t, out, "already exists")
	loaded, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", loaded.Bridge.CommunicationID)

	runRoot(t, "init", "--config", path, "--log-level", "off", "--force")
	loaded, err = config.Load(path)
	require.NoError(t, err)
	assert.Empty(t, loaded.Bridge.CommunicationID)
}
