// Package app wires the score store, the engine and the transports into one
// server.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/trace-the-wumpus/internal/platform/timeouts"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/domain/engine"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/storage"
	scoresqlite "github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/storage/sqlite"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/storage/textfile"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/transport/icmp"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/transport/websocket"
)

// HealthService is the name the game reports in gRPC health checks.
const HealthService = "wumpus.Trace"

// Score store backends.
const (
	BackendTextFile = "textfile"
	BackendSQLite   = "sqlite"
)

// Config holds everything the server needs.
type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	ICMPEnabled    bool
	ICMP4Addr      string
	ICMP6Addr      string
	ScoreBackend   string
	ScorePath      string
	SessionTimeout time.Duration
	MaxScores      int
	Debug          bool
}

// Server hosts the game over HTTP websockets, ICMP and gRPC health.
type Server struct {
	engine       *engine.Engine
	store        storage.ScoreStore
	httpListener net.Listener
	httpServer   *http.Server
	trace        *websocket.Handler
	grpcListener net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
	icmpServer   *icmp.Server
}

// New opens the score store, seeds the engine from it and binds the
// listeners. A score store that cannot be read aborts startup.
func New(ctx context.Context, cfg Config) (*Server, error) {
	store, err := openScoreStore(ctx, cfg.ScoreBackend, cfg.ScorePath)
	if err != nil {
		return nil, err
	}
	s := &Server{store: store}
	if err := s.init(ctx, cfg); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context, cfg Config) error {
	eng, err := engine.New(ctx, s.store,
		engine.WithSessionTimeout(cfg.SessionTimeout),
		engine.WithMaxScores(cfg.MaxScores),
		engine.WithDebug(cfg.Debug),
	)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	s.engine = eng

	s.httpListener, err = net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on http address %s: %w", cfg.HTTPAddr, err)
	}
	mux := http.NewServeMux()
	s.trace = websocket.NewHandler(eng)
	mux.Handle("/trace", s.trace)
	mux.HandleFunc("/scores", s.handleScores)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	s.grpcListener, err = net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on grpc address %s: %w", cfg.GRPCAddr, err)
	}
	s.grpcServer = grpc.NewServer()
	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	if cfg.ICMPEnabled {
		responder, err := icmp.NewResponder(eng)
		if err != nil {
			return err
		}
		s.icmpServer, err = icmp.NewServer(responder, cfg.ICMP4Addr, cfg.ICMP6Addr)
		if err != nil {
			return fmt.Errorf("configure icmp: %w", err)
		}
	}
	return nil
}

// Engine returns the game engine.
func (s *Server) Engine() *engine.Engine { return s.engine }

// HTTPAddr returns the websocket listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the health listener address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs every transport and blocks until one fails or ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.close()

	log.Printf("wumpus server listening http=%v grpc=%v", s.httpListener.Addr(), s.grpcListener.Addr())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.grpcServer.Serve(s.grpcListener)
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	})
	g.Go(func() error {
		err := s.httpServer.Serve(s.httpListener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	})
	if s.icmpServer != nil {
		g.Go(func() error { return s.icmpServer.Serve(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})
	return g.Wait()
}

func (s *Server) shutdown() {
	s.health.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("shutdown http: %v", err)
	}
	s.trace.Close()
	s.grpcServer.GracefulStop()
}

type scoreRow struct {
	Rank       int    `json:"rank"`
	Player     string `json:"player"`
	DurationMS int64  `json:"duration_ms"`
}

// handleScores lists every player's best time, fastest first.
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	board := s.engine.Leaderboard()
	rows := make([]scoreRow, len(board))
	for i, score := range board {
		rows[i] = scoreRow{Rank: i + 1, Player: score.Player, DurationMS: score.Best.Milliseconds()}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		log.Printf("write scores: %v", err)
	}
}

func (s *Server) close() {
	if s == nil {
		return
	}
	for _, l := range []net.Listener{s.httpListener, s.grpcListener} {
		if l != nil {
			_ = l.Close()
		}
	}
	if closer, ok := s.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Printf("close score store: %v", err)
		}
	}
}

func openScoreStore(ctx context.Context, backend, path string) (storage.ScoreStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "score.csv")
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendTextFile:
		store, err := textfile.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open score file: %w", err)
		}
		return store, nil
	case BackendSQLite:
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		store, err := scoresqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite score store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown score backend %q", backend)
	}
}
