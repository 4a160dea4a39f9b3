package app

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/transport/websocket"
)

func testConfig(t *testing.T, backend, name string) Config {
	t.Helper()
	return Config{
		HTTPAddr:       "127.0.0.1:0",
		GRPCAddr:       "127.0.0.1:0",
		ScoreBackend:   backend,
		ScorePath:      filepath.Join(t.TempDir(), "data", name),
		SessionTimeout: 5 * time.Minute,
		MaxScores:      10,
	}
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s
}

func TestServerAnswersTracesOverWebsocket(t *testing.T) {
	s := startServer(t, testConfig(t, BackendTextFile, "score.csv"))

	conn, _, err := gorillaws.DefaultDialer.Dial("ws://"+s.HTTPAddr()+"/trace?client=2001:db8::1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(websocket.TraceRequest{Target: "2a06:2904::"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp websocket.TraceResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Client != "2001:db8::1" || len(resp.Hops) == 0 || resp.Error != nil {
		t.Fatalf("response = %+v", resp)
	}
	if got := s.Engine().Sessions(); got != 1 {
		t.Fatalf("sessions = %d, want 1", got)
	}
}

func TestServerReportsHealth(t *testing.T) {
	s := startServer(t, testConfig(t, BackendSQLite, "scores.sqlite"))

	conn, err := grpc.NewClient(s.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc client: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestServerListsScores(t *testing.T) {
	s := startServer(t, testConfig(t, BackendTextFile, "score.csv"))

	resp, err := http.Get("http://" + s.HTTPAddr() + "/scores")
	if err != nil {
		t.Fatalf("get scores: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var rows []scoreRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %+v, want none", rows)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), testConfig(t, "postgres", "scores")); err == nil {
		t.Fatal("expected unknown backend to be rejected")
	}
}

func TestServeClosesOpenWebsockets(t *testing.T) {
	s, err := New(context.Background(), testConfig(t, BackendTextFile, "score.csv"))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws://"+s.HTTPAddr()+"/trace?client=2001:db8::2", nil)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(websocket.TraceRequest{Target: "2a06:2904::10:10:11"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp websocket.TraceResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop with a websocket open")
	}
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); !gorillaws.IsCloseError(err, gorillaws.CloseGoingAway) {
		t.Fatalf("read after shutdown = %v, want going away", err)
	}
}
