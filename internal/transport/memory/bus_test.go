package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	frames []string
}

func (c *collector) add(frame []byte) {
	c.mu.Lock()
	c.frames = append(c.frames, string(frame))
	c.mu.Unlock()
}

func (c *collector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func startBus(t *testing.T, size int) *Bus {
	t.Helper()
	bus := NewBus(size)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Run(ctx)
	return bus
}

func TestNewBus(t *testing.T) {
	bus := NewBus(0)
	assert.NotNil(t, bus)
	assert.Equal(t, 0, bus.Pending())
	assert.Equal(t, defaultQueueSize, cap(bus.queue))
}

func TestBus_DeliversToOtherEndpoints(t *testing.T) {
	bus := startBus(t, 0)
	a, b, c := bus.Endpoint(), bus.Endpoint(), bus.Endpoint()

	var gotA, gotB, gotC collector
	a.Subscribe(gotA.add)
	b.Subscribe(gotB.add)
	c.Subscribe(gotC.add)

	require.NoError(t, a.Send([]byte("hello")))

	assert.Eventually(t, func() bool {
		return len(gotB.get()) == 1 && len(gotC.get()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, gotA.get(), "sender must not observe its own frame")
	assert.Equal(t, []string{"hello"}, gotB.get())
}

func TestBus_SendCopiesFrame(t *testing.T) {
	bus := startBus(t, 0)
	a, b := bus.Endpoint(), bus.Endpoint()

	var got collector
	b.Subscribe(got.add)

	data := []byte("abc")
	require.NoError(t, a.Send(data))
	data[0] = 'z'

	assert.Eventually(t, func() bool { return len(got.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "abc", got.get()[0])
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := startBus(t, 0)
	a, b := bus.Endpoint(), bus.Endpoint()

	var got collector
	unsubscribe := b.Subscribe(got.add)
	unsubscribe()
	unsubscribe()

	require.NoError(t, a.Send([]byte("x")))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, got.get())
}

func TestBus_FullQueueDrops(t *testing.T) {
	bus := NewBus(1)
	a := bus.Endpoint()

	require.NoError(t, a.Send([]byte("1")))
	assert.ErrorIs(t, a.Send([]byte("2")), ErrBusFull)
	assert.Equal(t, 1, bus.Pending())
}

func TestEndpoint_Close(t *testing.T) {
	bus := startBus(t, 0)
	a, b := bus.Endpoint(), bus.Endpoint()
	assert.Equal(t, 2, bus.EndpointCount())

	var got collector
	b.Subscribe(got.add)
	b.Close()
	b.Close()

	assert.Equal(t, 1, bus.EndpointCount())
	assert.ErrorIs(t, b.Send([]byte("x")), ErrEndpointClosed)

	require.NoError(t, a.Send([]byte("y")))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, got.get())
}

func TestBus_ConcurrentSend(t *testing.T) {
	bus := NewBus(200)
	a := bus.Endpoint()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Send([]byte("msg"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, bus.Pending())
}
