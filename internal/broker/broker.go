// Package broker implements the client side of the view-store wire
// protocol: connection lifecycle, heartbeat liveness, and request
// retry with exponential backoff. Grounded on bgpwatcher_client.c's
// broker state machine and its configurable heartbeat/reconnect/retry
// parameters.
package broker

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/route-beacon/viewstore/internal/metrics"
	"github.com/route-beacon/viewstore/internal/viewerrs"
	"github.com/route-beacon/viewstore/internal/wire"
	"go.uber.org/zap"
)

// State mirrors the broker's connection lifecycle.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

// Config carries the tunables the original exposes as
// bgpwatcher_client_set_* setters.
type Config struct {
	ServerAddr string

	HeartbeatInterval  time.Duration
	HeartbeatLiveness  int
	ReconnectIntervalMin time.Duration
	ReconnectIntervalMax time.Duration

	RequestTimeout time.Duration
	RequestRetries int
}

// DefaultConfig matches BGPWATCHER_CLIENT_SERVER_URI_DEFAULT and the
// heartbeat/reconnect/request defaults in bgpwatcher_client.h.
var DefaultConfig = Config{
	ServerAddr:           "127.0.0.1:6300",
	HeartbeatInterval:    2 * time.Second,
	HeartbeatLiveness:    3,
	ReconnectIntervalMin: 1 * time.Second,
	ReconnectIntervalMax: 32 * time.Second,
	RequestTimeout:       2500 * time.Millisecond,
	RequestRetries:       3,
}

// Broker is a single client connection to the view-store server. It is
// not safe for concurrent use by multiple goroutines; callers run the
// request/response cycle from one goroutine, mirroring the original's
// single-threaded broker actor.
type Broker struct {
	cfg    Config
	log    *zap.Logger
	state  State
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer

	livenessRemaining int
	reconnectNext     time.Duration

	name    string
	intents wire.Intent
}

// New returns a disconnected broker.
func New(cfg Config, log *zap.Logger) *Broker {
	return &Broker{
		cfg:               cfg,
		log:               log,
		state:             StateDisconnected,
		livenessRemaining: cfg.HeartbeatLiveness,
		reconnectNext:     cfg.ReconnectIntervalMin,
	}
}

// Connect dials the server and sends the Ready handshake, declaring
// name and intents so the server knows whether to expect prefix tables
// from this client, dispatch completed views to it, or both.
func (b *Broker) Connect(ctx context.Context, name string, intents wire.Intent) error {
	b.name = name
	b.intents = intents
	b.state = StateConnecting
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", b.cfg.ServerAddr)
	if err != nil {
		b.state = StateDisconnected
		return fmt.Errorf("broker: %w: dialing %s: %v", viewerrs.ErrTransientIO, b.cfg.ServerAddr, err)
	}
	b.conn = conn
	b.r = bufio.NewReader(conn)
	b.w = bufio.NewWriter(conn)

	if err := wire.WriteFrame(b.w, wire.MsgReady, wire.EncodeReady(name, intents)); err != nil {
		conn.Close()
		b.state = StateDisconnected
		return err
	}

	b.state = StateReady
	b.livenessRemaining = b.cfg.HeartbeatLiveness
	b.reconnectNext = b.cfg.ReconnectIntervalMin
	return nil
}

// Close terminates the connection, sending Term if still connected.
func (b *Broker) Close() error {
	if b.conn == nil {
		return nil
	}
	if b.state == StateReady {
		_ = wire.WriteFrame(b.w, wire.MsgTerm, nil)
	}
	err := b.conn.Close()
	b.state = StateDisconnected
	b.conn = nil
	return err
}

// State returns the broker's current connection state.
func (b *Broker) State() State { return b.state }

// ReconnectBackoff returns the delay to wait before the next reconnect
// attempt, doubling each call up to ReconnectIntervalMax (exponential
// backoff per reconnect_interval_next in the original).
func (b *Broker) ReconnectBackoff() time.Duration {
	metrics.BrokerReconnectsTotal.Inc()
	d := b.reconnectNext
	b.reconnectNext *= 2
	if b.reconnectNext > b.cfg.ReconnectIntervalMax {
		b.reconnectNext = b.cfg.ReconnectIntervalMax
	}
	return d
}

// Heartbeat sends a heartbeat frame; the broker keeps no timer of its
// own, so the caller is responsible for scheduling this every
// HeartbeatInterval.
func (b *Broker) Heartbeat() error {
	if b.state != StateReady {
		return fmt.Errorf("broker: %w: heartbeat sent while not ready", viewerrs.ErrTransientIO)
	}
	return wire.WriteFrame(b.w, wire.MsgHeartbeat, nil)
}

// OnFrameReceived resets the heartbeat liveness counter; call this for
// every frame read from the connection, not just heartbeats, matching
// the original's "any traffic proves liveness" rule.
func (b *Broker) OnFrameReceived() {
	b.livenessRemaining = b.cfg.HeartbeatLiveness
}

// TickLiveness decrements the liveness counter on a missed heartbeat
// interval and reports whether the peer should now be considered dead.
func (b *Broker) TickLiveness() (dead bool) {
	b.livenessRemaining--
	return b.livenessRemaining <= 0
}

// ReadPush blocks for the next frame the server sends unsolicited (a
// heartbeat or a dispatched view), used by consumer-intent clients that
// sit in a read loop rather than issuing Request/reply round trips.
// Every returned frame, including heartbeats, counts as liveness per
// OnFrameReceived's contract; callers should call it themselves after
// inspecting the frame.
func (b *Broker) ReadPush() (wire.MsgType, []byte, error) {
	if b.state != StateReady {
		return 0, nil, fmt.Errorf("broker: %w: read attempted while not ready", viewerrs.ErrTransientIO)
	}
	return wire.ReadFrame(b.r)
}

// SendData writes a MsgData frame with the given sub-type payload
// (used for TableBegin/PrefixRow/TableEnd during a producer dump).
func (b *Broker) SendData(subType wire.DataSubType, payload []byte) error {
	if b.state != StateReady {
		return fmt.Errorf("broker: %w: send attempted while not ready", viewerrs.ErrTransientIO)
	}
	framed := append([]byte{byte(subType)}, payload...)
	return wire.WriteFrame(b.w, wire.MsgData, framed)
}

// Request sends payload as a Data frame and waits for a Reply, retrying
// up to RequestRetries times with RequestTimeout per attempt, mirroring
// bgpwatcher_client.c's lazy-pirate retry loop.
func (b *Broker) Request(ctx context.Context, subType wire.DataSubType, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= b.cfg.RequestRetries; attempt++ {
		if b.state != StateReady {
			if err := b.Connect(ctx, b.name, b.intents); err != nil {
				lastErr = err
				continue
			}
		}
		if err := b.SendData(subType, payload); err != nil {
			lastErr = err
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
		reply, err := b.awaitReply(reqCtx)
		cancel()
		if err == nil {
			return reply, nil
		}
		lastErr = err
		b.log.Warn("request attempt failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, fmt.Errorf("broker: %w: exhausted %d retries: %v", viewerrs.ErrTimeout, b.cfg.RequestRetries, lastErr)
}

func (b *Broker) awaitReply(ctx context.Context) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		msgType, payload, err := wire.ReadFrame(b.r)
		if err != nil {
			done <- result{nil, err}
			return
		}
		if msgType != wire.MsgReply {
			done <- result{nil, fmt.Errorf("broker: %w: expected reply, got msg type %d", viewerrs.ErrMalformed, msgType)}
			return
		}
		done <- result{payload, nil}
	}()

	select {
	case <-ctx.Done():
		// Unblock the reader goroutine by tearing down the connection;
		// the caller is expected to reconnect before its next request.
		b.Close()
		return nil, fmt.Errorf("broker: %w: %v", viewerrs.ErrTimeout, ctx.Err())
	case r := <-done:
		return r.payload, r.err
	}
}
