package ipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// Key prefix for request channels.
	redisChannelPrefix = "quayside:ipc:"
	// Key prefix for per-invoke reply channels.
	redisReplyPrefix = "quayside:ipc:reply:"
)

// redisAttachment tracks one attached callable and its subscription loop.
type redisAttachment struct {
	channel    string
	fn         HandlerFunc
	sub        *redis.PubSub
	listenerWg sync.WaitGroup // Waits for the listener goroutine to finish
}

// RedisTransport implements Transport over Redis pub/sub. It lets
// out-of-process peers (the CLI companion, another app instance) reach the
// same channel namespace: requests are JSON envelopes published on the
// channel's key, invoke responses come back on a per-request reply key
// derived from a correlation ID.
type RedisTransport struct {
	rdb         redis.UniversalClient
	mu          sync.Mutex
	closed      bool
	attachments map[string]*redisAttachment // channel -> attachment
}

// NewRedisTransport creates a Redis-backed transport.
// It requires a subscribing-capable client (e.g., *redis.Client).
func NewRedisTransport(rdb redis.UniversalClient) *RedisTransport {
	if rdb == nil {
		panic("ipc: redis client cannot be nil")
	}
	return &RedisTransport{
		rdb:         rdb,
		attachments: make(map[string]*redisAttachment),
	}
}

// requestKeyFor generates the Redis key for a channel's request traffic.
func requestKeyFor(channel string) string {
	return redisChannelPrefix + channel
}

// Attach subscribes to the channel's request key and binds fn as its sole
// callable, replacing any previous attachment. Attach returns only after
// the subscription is confirmed by Redis, so a following Fire or Invoke
// from any peer is guaranteed to reach fn.
func (t *RedisTransport) Attach(ctx context.Context, channel string, fn HandlerFunc) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	prev := t.attachments[channel]
	delete(t.attachments, channel)
	t.mu.Unlock()

	// Tear the previous subscription down fully before standing the new
	// one up on the same key.
	if prev != nil {
		prev.stop()
	}

	sub := t.rdb.Subscribe(ctx, requestKeyFor(channel))
	// Wait for confirmation that the subscription is created before
	// reporting the channel as attached.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("ipc: failed to subscribe to channel %s: %w", channel, err)
	}

	att := &redisAttachment{
		channel: channel,
		fn:      fn,
		sub:     sub,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		att.stop()
		return ErrTransportClosed
	}
	t.attachments[channel] = att
	t.mu.Unlock()

	att.listenerWg.Add(1)
	go t.listenLoop(att)

	log.Debug().Str("channel", channel).Msg("redis transport: callable attached")
	return nil
}

// Detach unsubscribes the channel's callable and waits for its listener
// loop to exit, so that after Detach returns no further deliveries can
// reach the detached callable.
func (t *RedisTransport) Detach(ctx context.Context, channel string) error {
	t.mu.Lock()
	att, ok := t.attachments[channel]
	delete(t.attachments, channel)
	t.mu.Unlock()

	if !ok {
		return nil // Nothing attached
	}

	att.stop()
	log.Debug().Str("channel", channel).Msg("redis transport: callable detached")
	return nil
}

// Fire publishes an event envelope on the channel with no reply key.
// Events on channels with no subscriber are dropped.
func (t *RedisTransport) Fire(ctx context.Context, channel string, payload any) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	data, err := t.encodeRequest(channel, "", payload)
	if err != nil {
		return err
	}

	receivers, err := t.rdb.Publish(ctx, requestKeyFor(channel), data).Result()
	if err != nil {
		return fmt.Errorf("ipc: failed to publish event on %s: %w", channel, err)
	}
	if receivers == 0 {
		log.Debug().Str("channel", channel).Msg("redis transport: event dropped, nothing attached")
	}
	return nil
}

// Invoke publishes a request envelope carrying a correlation ID and blocks
// on the matching reply key until the response arrives or ctx is done.
func (t *RedisTransport) Invoke(ctx context.Context, channel string, payload any) (any, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	id := uuid.NewString()
	replyKey := redisReplyPrefix + id

	// Subscribe to the reply key before publishing the request so the
	// response cannot slip past us.
	replySub := t.rdb.Subscribe(ctx, replyKey)
	defer func() {
		if err := replySub.Close(); err != nil {
			log.Error().Err(err).Str("channel", channel).Msg("redis transport: failed to close reply subscription")
		}
	}()
	if _, err := replySub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("ipc: failed to subscribe to reply key for %s: %w", channel, err)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("ipc: failed to encode request payload for %s: %w", channel, err)
	}
	data, err := encodeEnvelope(&envelope{ID: id, Channel: channel, ReplyTo: replyKey, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("ipc: failed to encode request envelope for %s: %w", channel, err)
	}

	receivers, err := t.rdb.Publish(ctx, requestKeyFor(channel), data).Result()
	if err != nil {
		return nil, fmt.Errorf("ipc: failed to publish request on %s: %w", channel, err)
	}
	if receivers == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, channel)
	}

	select {
	case msg, ok := <-replySub.Channel():
		if !ok {
			return nil, ErrTransportClosed
		}
		renv, err := decodeEnvelope([]byte(msg.Payload))
		if err != nil {
			return nil, fmt.Errorf("ipc: malformed response envelope on %s: %w", channel, err)
		}
		if renv.Error != "" {
			return nil, fmt.Errorf("ipc: handler on %s failed: %s", channel, renv.Error)
		}
		return decodePayload(renv.Payload)
	case <-ctx.Done():
		return nil, fmt.Errorf("ipc: invoke on %s: %w", channel, ctx.Err())
	}
}

// Close detaches every channel and waits for all listener loops to exit.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil // Already closed
	}
	t.closed = true

	attsToStop := make([]*redisAttachment, 0, len(t.attachments))
	for _, att := range t.attachments {
		attsToStop = append(attsToStop, att)
	}
	t.attachments = make(map[string]*redisAttachment)
	t.mu.Unlock()

	for _, att := range attsToStop {
		att.stop()
	}

	log.Debug().Msg("redis transport closed")
	return nil
}

// listenLoop drains the attachment's subscription, dispatching every
// envelope to the attached callable.
func (t *RedisTransport) listenLoop(att *redisAttachment) {
	defer att.listenerWg.Done()

	// Channel() keeps draining until the subscription is closed by stop().
	for msg := range att.sub.Channel() {
		env, err := decodeEnvelope([]byte(msg.Payload))
		if err != nil {
			log.Error().Err(err).Str("channel", att.channel).Msg("redis transport: malformed request envelope")
			continue
		}
		t.dispatch(att, env)
	}
}

// dispatch runs the callable for one envelope and, for invokes, publishes
// the response on the envelope's reply key.
func (t *RedisTransport) dispatch(att *redisAttachment, env *envelope) {
	ctx := withRequest(context.Background(), newRequest(att.channel))
	if env.ID != "" {
		req, _ := RequestFromContext(ctx)
		req.ID = env.ID
		ctx = withRequest(ctx, req)
	}

	payload, err := decodePayload(env.Payload)
	if err != nil {
		log.Error().Err(err).Str("channel", att.channel).Msg("redis transport: malformed request payload")
		t.reply(att.channel, env, nil, err)
		return
	}

	result, err := att.fn(ctx, payload)
	if env.ReplyTo == "" {
		// Fire-and-forget delivery: nothing to send back.
		if err != nil {
			log.Error().Err(err).Str("channel", att.channel).Msg("redis transport: listener failed")
		}
		return
	}
	t.reply(att.channel, env, result, err)
}

// reply publishes an invoke response envelope, if the request asked for one.
func (t *RedisTransport) reply(channel string, env *envelope, result any, handlerErr error) {
	if env.ReplyTo == "" {
		return
	}

	resp := &envelope{ID: env.ID, Channel: channel}
	if handlerErr != nil {
		resp.Error = handlerErr.Error()
	} else {
		raw, err := encodePayload(result)
		if err != nil {
			log.Error().Err(err).Str("channel", channel).Msg("redis transport: failed to encode response payload")
			resp.Error = err.Error()
		} else {
			resp.Payload = raw
		}
	}

	data, err := encodeEnvelope(resp)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("redis transport: failed to encode response envelope")
		return
	}
	if err := t.rdb.Publish(context.Background(), env.ReplyTo, data).Err(); err != nil {
		log.Error().Err(err).Str("channel", channel).Str("reply_to", env.ReplyTo).Msg("redis transport: failed to publish response")
	}
}

// encodeRequest builds the wire frame for an outgoing request envelope.
func (t *RedisTransport) encodeRequest(channel, replyTo string, payload any) ([]byte, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("ipc: failed to encode request payload for %s: %w", channel, err)
	}
	return encodeEnvelope(&envelope{
		ID:      uuid.NewString(),
		Channel: channel,
		ReplyTo: replyTo,
		Payload: raw,
	})
}

// isClosed reports the transport's closed state under the lock.
func (t *RedisTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// stop closes the subscription and waits for the listener loop to exit.
func (a *redisAttachment) stop() {
	if err := a.sub.Close(); err != nil {
		log.Error().Err(err).Str("channel", a.channel).Msg("redis transport: failed to close subscription")
	}
	a.listenerWg.Wait()
}

// Ensure RedisTransport implements the Transport interface.
var _ Transport = (*RedisTransport)(nil)
