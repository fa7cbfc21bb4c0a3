package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ConsumerStatus is an interface for checking join/readiness state of a
// background client — either a Kafka consumer group or a wire-protocol
// broker connection.
type ConsumerStatus interface {
	IsJoined() bool
}

// DBChecker abstracts the database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	srv          *http.Server
	pool         *pgxpool.Pool
	dbChecker    DBChecker
	ingestBridge ConsumerStatus
	pgsink       ConsumerStatus
	logger       *zap.Logger
}

// NewServer wires the health/readiness/metrics surface. ingestBridge
// reports whether the Kafka-fed producer path has joined its consumer
// group; pgsink reports whether the Postgres-persisting consumer client
// currently holds a ready broker connection. Either may be nil if that
// path isn't enabled.
func NewServer(addr string, pool *pgxpool.Pool, ingestBridge, pgsink ConsumerStatus, logger *zap.Logger) *Server {
	s := &Server{
		pool:         pool,
		ingestBridge: ingestBridge,
		pgsink:       pgsink,
		logger:       logger,
	}
	if pool != nil {
		s.dbChecker = pool
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	// Check PostgreSQL.
	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["postgres"] = "error"
			allOK = false
		} else {
			checks["postgres"] = "ok"
		}
	} else {
		checks["postgres"] = "error"
		allOK = false
	}

	// Check the Kafka-fed ingest bridge's consumer group membership.
	if s.ingestBridge != nil && s.ingestBridge.IsJoined() {
		checks["ingest_bridge"] = "ok"
	} else {
		checks["ingest_bridge"] = "not_joined"
		allOK = false
	}

	// Check the Postgres sink's broker connection.
	if s.pgsink != nil && s.pgsink.IsJoined() {
		checks["pgsink"] = "ok"
	} else {
		checks["pgsink"] = "not_joined"
		allOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
