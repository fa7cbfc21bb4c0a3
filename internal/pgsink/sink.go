// Package pgsink is a consumer-role broker client that persists every
// view the server dispatches into Postgres, repurposing the teacher's
// pgxpool-based batch-write pattern (internal/history.Writer,
// internal/state.Writer) for the view store's own schema instead of raw
// route events.
package pgsink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/route-beacon/viewstore/internal/bgpval"
	"github.com/route-beacon/viewstore/internal/broker"
	"github.com/route-beacon/viewstore/internal/metrics"
	"github.com/route-beacon/viewstore/internal/peersign"
	"github.com/route-beacon/viewstore/internal/peerstate"
	"github.com/route-beacon/viewstore/internal/view"
	"github.com/route-beacon/viewstore/internal/viewerrs"
	"github.com/route-beacon/viewstore/internal/wire"
)

// Config configures the sink's broker identity; the connection tunables
// (reconnect/heartbeat/timeouts) live in the embedded broker.Config.
type Config struct {
	Broker broker.Config
	Name   string
}

// Sink owns one consumer-intent broker connection and a Postgres pool,
// and writes every dispatched view it receives.
type Sink struct {
	cfg  Config
	br   *broker.Broker
	pool *pgxpool.Pool
	log  *zap.Logger

	// registry is rebuilt from each decoded view's inline peers block
	// (§4.H) via Registry.Set, since a consumer client does not share
	// the server's in-process peersign.Registry.
	registry *peersign.Registry
}

// New returns a sink that will dial cfg.Broker.ServerAddr on Run.
func New(cfg Config, pool *pgxpool.Pool, log *zap.Logger) *Sink {
	return &Sink{
		cfg:      cfg,
		br:       broker.New(cfg.Broker, log),
		pool:     pool,
		log:      log,
		registry: peersign.NewRegistry(),
	}
}

// Run connects as a consumer and persists views until ctx is canceled.
// A background goroutine drives the outbound heartbeat on the same
// connection while Run blocks reading pushed frames; the two never
// write to and read from the same buffer, so this is safe despite the
// broker's single-goroutine request/reply contract applying only to
// Request.
func (sk *Sink) Run(ctx context.Context) error {
	if err := sk.br.Connect(ctx, sk.cfg.Name, wire.IntentConsumer); err != nil {
		return err
	}
	defer sk.br.Close()

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go sk.heartbeatLoop(hbCtx)

	go func() {
		<-ctx.Done()
		sk.br.Close()
	}()

	for {
		msgType, payload, err := sk.br.ReadPush()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("pgsink: %w: reading pushed frame: %v", viewerrs.ErrTransientIO, err)
			}
		}
		sk.br.OnFrameReceived()

		switch msgType {
		case wire.MsgHeartbeat:
		case wire.MsgTerm:
			return nil
		case wire.MsgData:
			if err := sk.handleData(ctx, payload); err != nil {
				sk.log.Warn("pgsink: dropping frame", zap.Error(err))
			}
		}
	}
}

// IsJoined reports whether the sink currently holds a ready broker
// connection, satisfying internal/http's ConsumerStatus interface.
func (sk *Sink) IsJoined() bool {
	return sk.br.State() == broker.StateReady
}

func (sk *Sink) heartbeatLoop(ctx context.Context) {
	interval := sk.cfg.Broker.HeartbeatInterval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := sk.br.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (sk *Sink) handleData(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("pgsink: %w: empty data frame", viewerrs.ErrMalformed)
	}
	subType := wire.DataSubType(payload[0])
	body := payload[1:]

	switch subType {
	case wire.DataViewBegin:
		return sk.handleView(ctx, body)
	}
	return nil
}

func (sk *Sink) handleView(ctx context.Context, body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("pgsink: %w: view push too short", viewerrs.ErrMalformed)
	}
	mask := body[0]
	v := view.New()
	if err := wire.DecodeView(body[1:], v, sk.registry); err != nil {
		return err
	}
	return sk.persist(ctx, v.BGPTime(), mask, v)
}

// persist writes one dispatched view's rows (views, view_prefixes,
// view_peers) inside a single transaction, keyed by bucket time so a
// republish (e.g. Full after an earlier Partial) simply replaces the
// prior rows for that bucket.
func (sk *Sink) persist(ctx context.Context, ts uint32, mask byte, v *view.View) error {
	start := time.Now()
	bucket := time.Unix(int64(ts), 0).UTC()

	tx, err := sk.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgsink: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO views (bucket_time, state, v4_pfx_count, v6_pfx_count, published_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (bucket_time) DO UPDATE SET
			state = EXCLUDED.state,
			v4_pfx_count = EXCLUDED.v4_pfx_count,
			v6_pfx_count = EXCLUDED.v6_pfx_count,
			published_at = now()`,
		bucket, int16(mask), v.V4PfxCount(), v.V6PfxCount(),
	); err != nil {
		return fmt.Errorf("pgsink: upsert views row: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM view_prefixes WHERE bucket_time = $1`, bucket); err != nil {
		return fmt.Errorf("pgsink: clearing prior prefixes: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM view_peers WHERE bucket_time = $1`, bucket); err != nil {
		return fmt.Errorf("pgsink: clearing prior peers: %w", err)
	}

	pfxBatch := &pgx.Batch{}
	const insertPfx = `
		INSERT INTO view_prefixes (bucket_time, prefix, peer_collector, peer_ip, origin_asn)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`
	var pfxRows int
	queuePrefixes := func(pfxs func(fn func(pfx bgpval.Prefix) bool)) {
		pfxs(func(pfx bgpval.Prefix) bool {
			v.PfxPeerIter(pfx, func(peerID peersign.ID, info view.PfxPeerInfo) bool {
				sig, ok := sk.registry.GetByID(peerID)
				if !ok {
					sk.log.Debug("skipping prefix row with unresolved peer id", zap.Uint32("peer_id", uint32(peerID)))
					return true
				}
				pfxBatch.Queue(insertPfx, bucket, pfx.String(), sig.Collector, sig.PeerIP.String(), info.OriginASN)
				pfxRows++
				return true
			})
			return true
		})
	}
	queuePrefixes(v.V4PfxIter)
	queuePrefixes(v.V6PfxIter)

	if pfxRows > 0 {
		res := tx.SendBatch(ctx, pfxBatch)
		for i := 0; i < pfxRows; i++ {
			if _, err := res.Exec(); err != nil {
				res.Close()
				return fmt.Errorf("pgsink: insert view_prefixes[%d]: %w", i, err)
			}
		}
		if err := res.Close(); err != nil {
			return fmt.Errorf("pgsink: closing prefix batch: %w", err)
		}
	}

	peerBatch := &pgx.Batch{}
	const insertPeer = `
		INSERT INTO view_peers (bucket_time, peer_collector, peer_ip, v4_pfx_count, v6_pfx_count, full_feed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`
	var peerRows int
	v.PeerIter(func(peerID peersign.ID, info view.PeerInfo) bool {
		sig, ok := sk.registry.GetByID(peerID)
		if !ok {
			return true
		}
		fullFeed := info.V4PfxCnt > peerstate.DefaultThresholds.V4 || info.V6PfxCnt > peerstate.DefaultThresholds.V6
		peerBatch.Queue(insertPeer, bucket, sig.Collector, sig.PeerIP.String(), info.V4PfxCnt, info.V6PfxCnt, fullFeed)
		peerRows++
		return true
	})

	if peerRows > 0 {
		res := tx.SendBatch(ctx, peerBatch)
		for i := 0; i < peerRows; i++ {
			if _, err := res.Exec(); err != nil {
				res.Close()
				return fmt.Errorf("pgsink: insert view_peers[%d]: %w", i, err)
			}
		}
		if err := res.Close(); err != nil {
			return fmt.Errorf("pgsink: closing peer batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgsink: commit tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.DBWriteDuration.WithLabelValues("pgsink", "persist_view").Observe(dur)
	metrics.DBRowsAffectedTotal.WithLabelValues("pgsink", "view_prefixes", "upsert").Add(float64(pfxRows))
	metrics.DBRowsAffectedTotal.WithLabelValues("pgsink", "view_peers", "upsert").Add(float64(peerRows))
	metrics.BatchSize.WithLabelValues("pgsink").Observe(float64(pfxRows))

	sk.log.Debug("persisted view",
		zap.Uint32("bucket_time", ts),
		zap.Int("prefix_rows", pfxRows),
		zap.Int("peer_rows", peerRows),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
