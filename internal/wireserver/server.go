// Package wireserver implements the server side of the view-store wire
// protocol: accepting client connections, tracking per-client identity
// and intents, routing TableBegin/PrefixRow/TableEnd frames into the
// view store, sending periodic heartbeats, and expiring clients that
// stop responding. Grounded on bgpwatcher_server_int.h's client-info
// bookkeeping and bgpwatcher_store.c's active_clients map.
package wireserver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/route-beacon/viewstore/internal/metrics"
	"github.com/route-beacon/viewstore/internal/viewerrs"
	"github.com/route-beacon/viewstore/internal/viewstore"
	"github.com/route-beacon/viewstore/internal/wire"
	"go.uber.org/zap"
)

// ClientInfo tracks one connected client's identity and liveness.
type ClientInfo struct {
	Name    string
	Intents wire.Intent

	conn    net.Conn
	w       *bufio.Writer
	mu      sync.Mutex
	expires time.Time
}

func (c *ClientInfo) send(msgType wire.MsgType, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteFrame(c.w, msgType, payload)
}

// Config configures the server's accept loop and liveness sweep.
type Config struct {
	ListenAddr        string
	HeartbeatInterval time.Duration
	ClientExpiry      time.Duration
}

// DefaultConfig sends a heartbeat every second and expires a client after
// five seconds without traffic, more than two of broker.DefaultConfig's
// heartbeat intervals.
var DefaultConfig = Config{
	ListenAddr:        "0.0.0.0:6300",
	HeartbeatInterval: time.Second,
	ClientExpiry:      5 * time.Second,
}

// Server accepts client connections and feeds their prefix tables into
// a viewstore.Store. Only the run loop mutates the store; per-connection
// goroutines hand decoded frames to it over recvCh, mirroring the
// teacher's single-goroutine select-loop pipeline shape.
type Server struct {
	cfg   Config
	log   *zap.Logger
	store *viewstore.Store

	mu      sync.Mutex
	clients map[string]*ClientInfo

	recvCh chan frameEvent
}

type frameEvent struct {
	client  *ClientInfo
	msgType wire.MsgType
	payload []byte
}

// New returns a server bound to store.
func New(cfg Config, log *zap.Logger, store *viewstore.Store) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		store:   store,
		clients: make(map[string]*ClientInfo),
		recvCh:  make(chan frameEvent, 256),
	}
}

// Run accepts connections and processes frames until ctx is canceled.
// It owns the single goroutine that mutates the view store and services
// the heartbeat/expiry ticker; all other goroutines (the accept loop and
// per-connection readers) only push events onto channels.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("wireserver: %w: listening on %s: %v", viewerrs.ErrTransientIO, s.cfg.ListenAddr, err)
	}
	defer ln.Close()

	go s.acceptLoop(ctx, ln)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.recvCh:
			s.handleFrame(ev)
		case <-heartbeat.C:
			s.broadcastHeartbeat()
			s.expireStaleClients()
			s.sweepTimeouts()
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	msgType, readyPayload, err := wire.ReadFrame(r)
	if err != nil || msgType != wire.MsgReady {
		conn.Close()
		return
	}
	name, intents, _ := wire.DecodeReady(readyPayload)
	if name == "" {
		name = conn.RemoteAddr().String()
	}

	client := &ClientInfo{
		Name:    name,
		Intents: intents,
		conn:    conn,
		w:       w,
		expires: time.Now().Add(s.cfg.ClientExpiry),
	}

	s.mu.Lock()
	s.clients[client.Name] = client
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, client.Name)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		msgType, payload, err := wire.ReadFrame(r)
		if err != nil {
			return
		}
		select {
		case s.recvCh <- frameEvent{client: client, msgType: msgType, payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleFrame(ev frameEvent) {
	ev.client.expires = time.Now().Add(s.cfg.ClientExpiry)

	switch ev.msgType {
	case wire.MsgHeartbeat:
		// liveness already refreshed above.
	case wire.MsgTerm:
		s.mu.Lock()
		delete(s.clients, ev.client.Name)
		s.mu.Unlock()
		s.store.RemoveProducer(ev.client.Name)
	case wire.MsgData:
		s.handleData(ev.client, ev.payload)
	}
}

func (s *Server) handleData(client *ClientInfo, payload []byte) {
	if len(payload) == 0 {
		return
	}
	subType := wire.DataSubType(payload[0])
	body := payload[1:]

	switch subType {
	case wire.DataTableBegin:
		s.store.AddProducer(client.Name)
	case wire.DataPrefixRow:
		s.handlePrefixRow(client, body)
	case wire.DataTableEnd:
		s.handleTableEnd(client, body)
	}
}

// handlePrefixRow decodes one (bucket time, collector, peer ip, prefix,
// origin ASN) row and applies it to the corresponding store slot.
func (s *Server) handlePrefixRow(client *ClientInfo, body []byte) {
	row, err := wire.DecodePrefixRow(body)
	if err != nil {
		s.log.Warn("dropping malformed prefix row", zap.String("client", client.Name), zap.Error(err))
		return
	}

	slot, res, err := s.store.GetSlot(row.Time)
	if err != nil || res != viewstore.ResultValid {
		s.log.Debug("dropping row outside the active window", zap.Uint32("time", row.Time))
		return
	}

	peerID, err := s.store.PeerSigns().SetAndGet(row.Collector, row.PeerIP)
	if err != nil {
		s.log.Warn("rejecting row with invalid peer signature", zap.Error(err))
		return
	}

	slot.Peer(peerID).OnRIBRow(row.Time)
	s.store.AddPrefix(slot, row.Prefix, peerID, row.OriginASN)
}

func (s *Server) handleTableEnd(client *ClientInfo, body []byte) {
	ts, err := wire.DecodeTableEnd(body)
	if err != nil {
		return
	}
	slot, res, err := s.store.GetSlot(ts)
	if err != nil || res != viewstore.ResultValid {
		return
	}
	s.store.TableEnd(slot, client.Name)
	s.pushView(slot, s.store.CheckDispatch(slot))
}

// pushView encodes slot's current view (§4.H: bgp-time, wall-created
// time, peers block, and both prefix blocks, all in one payload) and
// sends it to every consumer-intent client, mirroring
// bgpstore_interests_dispatcher_run's publish step. A DispatchNone mask
// is a no-op.
func (s *Server) pushView(slot *viewstore.Slot, mask viewstore.DispatchKind) {
	if mask == viewstore.DispatchNone {
		return
	}
	if mask.Has(viewstore.DispatchFirstFull) {
		metrics.ViewsDispatchedTotal.WithLabelValues("first_full").Inc()
	}
	if mask.Has(viewstore.DispatchFull) {
		metrics.ViewsDispatchedTotal.WithLabelValues("full").Inc()
	}
	if mask.Has(viewstore.DispatchPartial) {
		metrics.ViewsDispatchedTotal.WithLabelValues("partial").Inc()
	}

	encoded, err := wire.EncodeView(slot.View(), s.store.PeerSigns())
	if err != nil {
		s.log.Warn("dropping view push with unencodable view", zap.Error(err))
		return
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(mask))
	buf.Write(encoded)
	viewPayload := append([]byte{byte(wire.DataViewBegin)}, buf.Bytes()...)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.Intents&wire.IntentConsumer == 0 {
			continue
		}
		if err := c.send(wire.MsgData, viewPayload); err != nil {
			s.log.Debug("view push failed", zap.String("client", c.Name), zap.Error(err))
		}
	}
}

func (s *Server) broadcastHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var producers, consumers float64
	for _, c := range s.clients {
		if err := c.send(wire.MsgHeartbeat, nil); err != nil {
			s.log.Debug("heartbeat send failed", zap.String("client", c.Name), zap.Error(err))
		}
		if c.Intents&wire.IntentProducer != 0 {
			producers++
		}
		if c.Intents&wire.IntentConsumer != 0 {
			consumers++
		}
	}
	metrics.ConnectedClients.WithLabelValues("producer").Set(producers)
	metrics.ConnectedClients.WithLabelValues("consumer").Set(consumers)
}

func (s *Server) expireStaleClients() {
	now := time.Now()
	s.mu.Lock()
	var expired []*ClientInfo
	for name, c := range s.clients {
		if now.After(c.expires) {
			expired = append(expired, c)
			delete(s.clients, name)
		}
	}
	s.mu.Unlock()

	for _, c := range expired {
		s.log.Info("expiring unresponsive client", zap.String("client", c.Name))
		s.store.RemoveProducer(c.Name)
		c.conn.Close()
	}
}

func (s *Server) sweepTimeouts() {
	for slot, mask := range s.store.SweepTimeouts(time.Now()) {
		s.pushView(slot, mask)
	}
}

