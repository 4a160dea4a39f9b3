// Package websocket serves the game to browsers. A page sends one target per
// frame and receives the hops a traceroute to that target would show.
package websocket

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"

	apperrors "github.com/louisbranch/trace-the-wumpus/internal/platform/errors"
	"github.com/louisbranch/trace-the-wumpus/internal/platform/timeouts"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/domain/engine"
)

// ClientParam names the query parameter that carries a client id across
// reconnects. Connections without it get a fresh id.
const ClientParam = "client"

const maxFrameSize = 1024

// Engine plays one turn. *engine.Engine satisfies it.
type Engine interface {
	Handle(ctx context.Context, req engine.Request) engine.Response
}

// TraceRequest is a frame sent by the browser.
type TraceRequest struct {
	Target string `json:"target"`
}

// TraceHop is one hop of a TraceResponse.
type TraceHop struct {
	Hop     int    `json:"hop"`
	Address string `json:"address,omitempty"`
	DelayMS int64  `json:"delay_ms,omitempty"`
}

// TraceError describes a command the game did not recognize or refused.
type TraceError struct {
	Reason  string `json:"reason"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TraceResponse answers one TraceRequest.
type TraceResponse struct {
	Client string      `json:"client"`
	Target string      `json:"target"`
	Hops   []TraceHop  `json:"hops"`
	Error  *TraceError `json:"error,omitempty"`
	// Rejected explains a refused command. Its hops still end with the
	// target.
	Rejected *TraceError `json:"rejected,omitempty"`
}

// Handler upgrades requests to websockets and plays the frames they carry.
type Handler struct {
	engine   Engine
	upgrader websocket.Upgrader
	newID    func() string

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	active sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithCheckOrigin sets the origin policy of the upgrade.
func WithCheckOrigin(check func(*http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = check
	}
}

// NewHandler creates a handler playing turns on e.
func NewHandler(e Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: e,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxFrameSize,
			WriteBufferSize: 4096,
		},
		newID: uuid.NewString,
		conns: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client := strings.TrimSpace(r.URL.Query().Get(ClientParam))
	if client == "" {
		client = h.newID()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade client=%s: %v", client, err)
		return
	}
	if !h.track(conn) {
		goingAway(conn)
		conn.Close()
		return
	}
	defer h.untrack(conn)
	conn.SetReadLimit(maxFrameSize)

	for {
		var req TraceRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket: read client=%s: %v", client, err)
			}
			return
		}

		resp := h.engine.Handle(r.Context(), engine.Request{
			Client:   client,
			Target:   strings.TrimSpace(req.Target),
			Protocol: "websocket",
		})

		if err := conn.SetWriteDeadline(time.Now().Add(timeouts.WebsocketWrite)); err != nil {
			return
		}
		if err := conn.WriteJSON(traceResponse(client, req.Target, resp)); err != nil {
			log.Printf("websocket: write client=%s: %v", client, err)
			return
		}
	}
}

// Close ends every open connection and waits for their frames to finish.
// Later upgrades are closed right away. http.Server.Shutdown leaves
// upgraded connections alone, so servers call Close after it.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	for conn := range h.conns {
		goingAway(conn)
		conn.Close()
	}
	h.mu.Unlock()
	h.active.Wait()
}

func (h *Handler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	h.active.Add(1)
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
	h.active.Done()
}

func goingAway(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeouts.WebsocketWrite))
}

func traceResponse(client, target string, resp engine.Response) TraceResponse {
	out := TraceResponse{
		Client: client,
		Target: target,
		Hops:   make([]TraceHop, len(resp.Hops)),
	}
	for i, hop := range resp.Hops {
		out.Hops[i] = TraceHop{Hop: i + 1, Address: hop.Address, DelayMS: hop.Delay.Milliseconds()}
	}
	if resp.Err != nil {
		out.Error = traceError(resp.Err)
	}
	if resp.Rejected != nil {
		out.Rejected = traceError(resp.Rejected)
	}
	return out
}

// traceError reports err the way a gRPC client would see it.
func traceError(err error) *TraceError {
	coded := apperrors.New(apperrors.CodeOf(err), err.Error())
	st, _ := status.FromError(coded.ToGRPCStatus())
	out := &TraceError{
		Reason:  string(coded.Code),
		Status:  st.Code().String(),
		Message: coded.Code.UserMessage(),
	}
	for _, detail := range st.Details() {
		if msg, ok := detail.(*errdetails.LocalizedMessage); ok {
			out.Message = msg.GetMessage()
		}
	}
	return out
}
