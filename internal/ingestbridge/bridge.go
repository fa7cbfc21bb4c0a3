// Package ingestbridge adapts the Kafka-delivered goBMP feed into the
// view store's producer-client wire protocol: it decodes each batch of
// records with the teacher's goBMP JSON decoders, converts them to
// ingest.Element, and drives a broker.Broker through a TableBegin /
// PrefixRow.../ TableEnd cycle per bucket time, exactly as an external
// producer client would.
package ingestbridge

import (
	"context"
	"strings"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/route-beacon/viewstore/internal/broker"
	"github.com/route-beacon/viewstore/internal/ingest"
	"github.com/route-beacon/viewstore/internal/kafka"
	"github.com/route-beacon/viewstore/internal/state"
	"github.com/route-beacon/viewstore/internal/wire"
)

// Config configures the bridge's bucket alignment.
type Config struct {
	ItemTime uint32
}

// Bridge owns one Kafka consumer and one producer-role broker
// connection, translating the former into the latter.
type Bridge struct {
	cfg      Config
	consumer *kafka.StateConsumer
	br       *broker.Broker
	log      *zap.Logger

	mu          sync.Mutex
	openBuckets map[uint32]struct{}
}

// New returns a bridge reading from consumer and publishing through br.
func New(cfg Config, consumer *kafka.StateConsumer, br *broker.Broker, log *zap.Logger) *Bridge {
	return &Bridge{
		cfg:         cfg,
		consumer:    consumer,
		br:          br,
		log:         log,
		openBuckets: make(map[uint32]struct{}),
	}
}

// Run connects the broker and pumps Kafka batches through it until ctx
// is canceled. Mirrors the teacher's consumer.Run(records, flushed,
// commitWg) shape: records flow one direction, flushed/commit flows
// back once each batch's frames are durably sent.
func (bdg *Bridge) Run(ctx context.Context, collector string) error {
	if err := bdg.br.Connect(ctx, collector, wire.IntentProducer); err != nil {
		return err
	}
	defer bdg.br.Close()

	records := make(chan []*kgo.Record)
	flushed := make(chan []*kgo.Record)
	var commitWg sync.WaitGroup

	go bdg.consumer.Run(ctx, records, flushed, &commitWg)

	defer func() {
		close(flushed)
		commitWg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-records:
			if !ok {
				return nil
			}
			if err := bdg.processBatch(ctx, collector, batch); err != nil {
				bdg.log.Error("ingestbridge: processing batch failed", zap.Error(err))
				continue
			}
			select {
			case flushed <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (bdg *Bridge) processBatch(ctx context.Context, collector string, batch []*kgo.Record) error {
	for _, rec := range batch {
		afi := afiFromTopic(rec.Topic)
		el, eor, ok, err := bdg.decodeRecord(collector, afi, rec)
		if err != nil {
			bdg.log.Warn("ingestbridge: dropping malformed record", zap.Error(err))
			continue
		}
		if eor {
			ts := uint32(rec.Timestamp.Unix())
			bucket := (ts / bdg.cfg.ItemTime) * bdg.cfg.ItemTime
			if err := bdg.CloseBucket(bucket); err != nil {
				return err
			}
			continue
		}
		if !ok {
			continue
		}
		if err := bdg.publish(ctx, el); err != nil {
			return err
		}
	}
	return nil
}

// decodeRecord returns either a decoded element (ok=true), an EOR
// marker for the record's bucket (eor=true), or neither if the record
// carries nothing the view store needs.
func (bdg *Bridge) decodeRecord(collector string, afi int, rec *kgo.Record) (el ingest.Element, eor bool, ok bool, err error) {
	route, err := state.DecodeUnicastPrefix(rec.Value, afi)
	if err != nil {
		return ingest.Element{}, false, false, err
	}
	if route.IsEOR {
		return ingest.Element{}, true, false, nil
	}
	ts := uint32(rec.Timestamp.Unix())
	bucket := (ts / bdg.cfg.ItemTime) * bdg.cfg.ItemTime
	el, err = ingest.FromParsedRoute(collector, peerAddrFromHeaders(rec), bucket, route)
	if err != nil {
		return ingest.Element{}, false, false, err
	}
	return el, false, true, nil
}

func (bdg *Bridge) publish(ctx context.Context, el ingest.Element) error {
	bdg.mu.Lock()
	_, open := bdg.openBuckets[el.Time]
	if !open {
		bdg.openBuckets[el.Time] = struct{}{}
	}
	bdg.mu.Unlock()

	if !open {
		if err := bdg.br.SendData(wire.DataTableBegin, nil); err != nil {
			return err
		}
	}

	if el.Kind == ingest.KindWithdraw {
		// Withdrawals carry no row payload in this feed direction; the
		// store only tracks additions from full/partial table dumps,
		// matching the original's RIB-snapshot (not incremental)
		// producer contract.
		return nil
	}

	row := wire.PrefixRow{
		Time:      el.Time,
		Collector: el.Collector,
		PeerIP:    el.PeerIP,
		Prefix:    el.Prefix,
		OriginASN: el.OriginASN,
	}
	payload, err := wire.EncodePrefixRow(row)
	if err != nil {
		return err
	}
	return bdg.br.SendData(wire.DataPrefixRow, payload)
}

// IsJoined reports whether the bridge's underlying Kafka consumer group
// has an active partition assignment, satisfying internal/http's
// ConsumerStatus interface.
func (bdg *Bridge) IsJoined() bool {
	return bdg.consumer.IsJoined()
}

// CloseBucket finalizes a bucket time by sending TableEnd, called once
// the upstream feed signals EOR for that table (goBMP's is_eor flag).
func (bdg *Bridge) CloseBucket(ts uint32) error {
	bdg.mu.Lock()
	delete(bdg.openBuckets, ts)
	bdg.mu.Unlock()
	return bdg.br.SendData(wire.DataTableEnd, wire.EncodeTableEnd(ts))
}

// afiFromTopic infers the address family from the teacher's topic
// naming convention (".ipv4." / ".ipv6." substrings in the unicast
// prefix topic names).
func afiFromTopic(topic string) int {
	if strings.Contains(topic, "ipv6") {
		return 6
	}
	return 4
}

// peerAddrFromHeaders extracts the peer IP the teacher's BMP parser
// attaches to each Kafka record as a header, set by the upstream
// collector (openbmp.go) from the BMP peer header.
func peerAddrFromHeaders(rec *kgo.Record) string {
	for _, h := range rec.Headers {
		if h.Key == "peer_ip" {
			return string(h.Value)
		}
	}
	return ""
}
