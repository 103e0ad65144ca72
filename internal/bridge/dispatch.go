package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/dayuer/msgbridge-go/internal/envelope"
)

// receive is the transport callback. Frames are handed to the dispatch loop
// so envelopes for one bridge are classified one at a time.
func (b *Bridge) receive(frame []byte) {
	select {
	case b.inbox <- frame:
	case <-b.ctx.Done():
	}
}

func (b *Bridge) loop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case frame := <-b.inbox:
			b.dispatch(frame)
		}
	}
}

// dispatch routes one inbound frame. Foreign traffic and senders outside the
// allow-list are dropped without a trace.
func (b *Bridge) dispatch(frame []byte) {
	if b.closed() {
		return
	}
	env, ok := envelope.Decode(frame, b.opts.MessageType)
	if !ok {
		return
	}
	if !b.IsAllowedID(env.CommunicationID) {
		return
	}

	if env.IsRequest() {
		b.handleRequest(env)
	}
	if env.IsResponse() {
		b.calls.resolve(env.RequestID, env.Success, env.Data, env.Error)
	}
}

func (b *Bridge) handleRequest(env envelope.Envelope) {
	if env.Action == envelope.HandshakeAction {
		if env.NeedResponse {
			b.reply(env, handshakeAck{CommunicationID: b.id})
		}
		return
	}

	fn := b.handlers.lookup(env.Action)
	if fn == nil {
		if env.NeedResponse {
			b.replyError(env, missingHandlerMessage(env.Action))
		}
		return
	}

	// Handlers may block; the loop keeps serving other envelopes meanwhile.
	go b.serve(env, fn)
}

func (b *Bridge) serve(env envelope.Envelope, fn HandlerFunc) {
	result, err := b.runHandler(fn, env.Data)
	if err != nil {
		b.log.Error().Err(err).
			Str("action", env.Action).
			Str("from", env.CommunicationID).
			Str("request", env.ID).
			Msg("handler failed")
	}
	if !env.NeedResponse || b.closed() {
		return
	}
	if err != nil {
		b.replyError(env, err.Error())
		return
	}
	b.reply(env, result)
}

func (b *Bridge) runHandler(fn HandlerFunc, data json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(b.ctx, data)
}

func (b *Bridge) reply(env envelope.Envelope, data any) {
	resp, err := envelope.NewSuccess(b.opts.MessageType, b.id, env.ID, data)
	if err != nil {
		b.log.Error().Err(err).Str("action", env.Action).Msg("encode handler result")
		b.replyError(env, fmt.Sprintf("encode result: %v", err))
		return
	}
	if err := b.post(resp); err != nil {
		b.log.Warn().Err(err).Str("action", env.Action).Msg("send response")
	}
}

func (b *Bridge) replyError(env envelope.Envelope, message string) {
	resp := envelope.NewFailure(b.opts.MessageType, b.id, env.ID, message)
	if err := b.post(resp); err != nil {
		b.log.Warn().Err(err).Str("action", env.Action).Msg("send error response")
	}
}
