package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dayuer/msgbridge-go/internal/envelope"
)

// State is the readiness state of a bridge.
type State string

const (
	StateNotReady    State = "not_ready"
	StateHandshaking State = "handshaking"
	StateReady       State = "ready"
	StateFailed      State = "failed"
)

// handshakeRun is one sequence of handshake attempts. Every caller waiting
// for readiness while the sequence is in flight shares it.
type handshakeRun struct {
	done chan struct{}
	err  error
}

type handshakeAck struct {
	CommunicationID string `json:"communicationId"`
}

// IsReady reports whether a handshake has completed.
func (b *Bridge) IsReady() bool {
	return b.State() == StateReady
}

// State returns the current readiness state.
func (b *Bridge) State() State {
	b.hsMu.Lock()
	defer b.hsMu.Unlock()
	return b.state
}

// WaitReady blocks until the bridge is ready, starting a handshake sequence
// if none is in flight. A bridge in StateFailed starts a fresh sequence.
func (b *Bridge) WaitReady(ctx context.Context) error {
	b.hsMu.Lock()
	if b.closed() {
		b.hsMu.Unlock()
		return ErrConnectionClosed
	}
	if b.state == StateReady {
		b.hsMu.Unlock()
		return nil
	}
	run := b.run
	if run == nil {
		run = &handshakeRun{done: make(chan struct{})}
		b.run = run
		b.state = StateHandshaking
		b.attempts = 0
		go b.attempt(run)
	}
	b.hsMu.Unlock()

	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) attempt(run *handshakeRun) {
	b.hsMu.Lock()
	if b.run != run {
		b.hsMu.Unlock()
		return
	}
	b.retry = nil
	n := b.attempts + 1
	b.hsMu.Unlock()

	b.log.Debug().Int("attempt", n).Msg("handshake attempt")
	data, err := b.call(b.ctx, envelope.HandshakeAction, nil, b.opts.HandshakeTimeout)

	b.hsMu.Lock()
	defer b.hsMu.Unlock()
	if b.run != run {
		return
	}

	if err == nil {
		b.state = StateReady
		b.run = nil
		close(run.done)

		var ack handshakeAck
		_ = json.Unmarshal(data, &ack)
		b.log.Info().Int("attempt", n).Str("peer", ack.CommunicationID).Msg("handshake complete")
		return
	}

	b.attempts = n
	if b.attempts >= b.opts.MaxHandshakeAttempts {
		b.state = StateFailed
		b.run = nil
		run.err = fmt.Errorf("%w after %d attempts: %w", ErrHandshakeFailed, n, err)
		close(run.done)
		b.log.Warn().Err(err).Int("attempts", n).Msg("handshake failed")
		return
	}
	b.retry = time.AfterFunc(b.opts.HandshakeRetryInterval, func() {
		b.attempt(run)
	})
}

// abortHandshake stops the retry timer and releases every waiter with err.
func (b *Bridge) abortHandshake(err error) {
	b.hsMu.Lock()
	defer b.hsMu.Unlock()
	if b.retry != nil {
		b.retry.Stop()
		b.retry = nil
	}
	if b.run != nil {
		b.run.err = err
		close(b.run.done)
		b.run = nil
	}
	if b.state == StateHandshaking {
		b.state = StateNotReady
	}
}
