package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/msgbridge-go/internal/bridge"
)

type inbox struct {
	mu     sync.Mutex
	frames []string
}

func (i *inbox) add(frame []byte) {
	i.mu.Lock()
	i.frames = append(i.frames, string(frame))
	i.mu.Unlock()
}

func (i *inbox) get() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.frames...)
}

func startHub(t *testing.T, cfg HubConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.closeAll()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, token string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitConns(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ConnectionCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RelaysToOthersOnly(t *testing.T) {
	hub, url := startHub(t, HubConfig{})
	a, b, c := dial(t, url, ""), dial(t, url, ""), dial(t, url, "")
	waitConns(t, hub, 3)

	var gotA, gotB, gotC inbox
	a.Subscribe(gotA.add)
	b.Subscribe(gotB.add)
	c.Subscribe(gotC.add)

	require.NoError(t, a.Send([]byte(`{"hello":"world"}`)))

	assert.Eventually(t, func() bool {
		return len(gotB.get()) == 1 && len(gotC.get()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"hello":"world"}`, gotB.get()[0])

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, gotA.get())
	assert.Equal(t, int64(1), hub.Relayed())
}

func TestHub_RequiresToken(t *testing.T) {
	_, url := startHub(t, HubConfig{Token: "secret"})

	_, err := Dial(context.Background(), url, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = Dial(context.Background(), url, "wrong")
	assert.Error(t, err)

	c := dial(t, url, "secret")
	assert.NoError(t, c.Send([]byte(`{}`)))
}

func TestHub_Health(t *testing.T) {
	hub, url := startHub(t, HubConfig{})
	dial(t, url, "")
	waitConns(t, hub, 1)

	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["connections"])
}

func TestHub_DropsDisconnectedClients(t *testing.T) {
	hub, url := startHub(t, HubConfig{})
	a := dial(t, url, "")
	dial(t, url, "")
	waitConns(t, hub, 2)

	require.NoError(t, a.Close())
	waitConns(t, hub, 1)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, url := startHub(t, HubConfig{})
	c := dial(t, url, "")
	waitConns(t, hub, 1)

	hub.closeAll()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client read loop did not stop")
	}
	assert.ErrorIs(t, c.Send([]byte(`{}`)), ErrClientClosed)
}

func TestClient_CloseIdempotent(t *testing.T) {
	_, url := startHub(t, HubConfig{})
	c := dial(t, url, "")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte(`{}`)), ErrClientClosed)
}

func TestBridgesOverHub(t *testing.T) {
	hub, url := startHub(t, HubConfig{Token: "t"})
	ta, tb := dial(t, url, "t"), dial(t, url, "t")
	waitConns(t, hub, 2)

	nop := zerolog.Nop()
	opts := bridge.Options{
		HandshakeTimeout:       500 * time.Millisecond,
		HandshakeRetryInterval: 20 * time.Millisecond,
		Logger:                 &nop,
	}
	a, err := bridge.New("a", ta, opts)
	require.NoError(t, err)
	t.Cleanup(a.Destroy)
	b, err := bridge.New("b", tb, opts)
	require.NoError(t, err)
	t.Cleanup(b.Destroy)

	_, err = b.Handle("echo", func(_ context.Context, data json.RawMessage) (any, error) {
		return data, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got, err := a.Invoke(ctx, "echo", map[string]int{"n": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":7}`, string(got))
}
