package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/route-beacon/viewstore/internal/broker"
	"github.com/route-beacon/viewstore/internal/peersign"
	"github.com/route-beacon/viewstore/internal/view"
	"github.com/route-beacon/viewstore/internal/wire"
)

// runWatch connects to a view-store server as a consumer-intent client
// and prints a one-line summary of every view it pushes, resolving peer
// ids through the registry reconstructed from each view's inline peers
// block (§4.H), the same protocol internal/pgsink's Sink speaks.
func runWatch(args []string) {
	addr := broker.DefaultConfig.ServerAddr
	if len(args) > 0 {
		addr = args[0]
	}

	logger := newLogger()
	defer logger.Sync()

	cfg := broker.DefaultConfig
	cfg.ServerAddr = addr
	br := broker.New(cfg, logger.Named("broker"))

	ctx, cancel := signalContext()
	defer cancel()

	if err := br.Connect(ctx, "viewctl-watch", wire.IntentConsumer); err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer br.Close()

	fmt.Printf("watching %s for dispatched views (Ctrl-C to stop)\n", addr)

	go heartbeatLoop(ctx, br)

	registry := peersign.NewRegistry()

	for {
		msgType, payload, err := br.ReadPush()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
				return
			}
		}
		br.OnFrameReceived()

		switch msgType {
		case wire.MsgHeartbeat:
		case wire.MsgTerm:
			fmt.Println("server closed the connection")
			return
		case wire.MsgData:
			if err := handlePush(payload, registry); err != nil {
				fmt.Fprintf(os.Stderr, "dropping frame: %v\n", err)
			}
		}
	}
}

func heartbeatLoop(ctx context.Context, br *broker.Broker) {
	t := time.NewTicker(broker.DefaultConfig.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := br.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func handlePush(payload []byte, registry *peersign.Registry) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty data frame")
	}
	subType := wire.DataSubType(payload[0])
	body := payload[1:]

	switch subType {
	case wire.DataViewBegin:
		return printView(body, registry)
	}
	return nil
}

func printView(body []byte, registry *peersign.Registry) error {
	if len(body) < 1 {
		return fmt.Errorf("view push too short")
	}
	mask := body[0]
	v := view.New()
	if err := wire.DecodeView(body[1:], v, registry); err != nil {
		return err
	}

	bucket := time.Unix(int64(v.BGPTime()), 0).UTC()
	fmt.Printf("view bucket=%s kind=%s v4_pfx=%d v6_pfx=%d\n",
		bucket.Format(time.RFC3339), dispatchKindName(mask), v.V4PfxCount(), v.V6PfxCount())

	v.PeerIter(func(peerID peersign.ID, info view.PeerInfo) bool {
		sig, ok := registry.GetByID(peerID)
		name := "unresolved"
		if ok {
			name = fmt.Sprintf("%s/%s", sig.Collector, sig.PeerIP.String())
		}
		fmt.Printf("  peer %-30s v4=%d v6=%d\n", name, info.V4PfxCnt, info.V6PfxCnt)
		return true
	})
	return nil
}

func dispatchKindName(mask byte) string {
	switch {
	case mask&0x8 != 0:
		return "first-full"
	case mask&0x4 != 0:
		return "full"
	case mask&0x2 != 0:
		return "partial"
	default:
		return fmt.Sprintf("unknown(0x%x)", mask)
	}
}
