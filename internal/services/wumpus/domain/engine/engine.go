package engine

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/trace-the-wumpus/internal/platform/errors"
	"github.com/louisbranch/trace-the-wumpus/internal/platform/random"
	"github.com/louisbranch/trace-the-wumpus/internal/platform/timeouts"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/domain/addr"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/domain/game"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/storage"
)

// DefaultMaxScores is the number of rows on the score screen.
const DefaultMaxScores = 10

const tracerName = "github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/domain/engine"

// Request is one probe from a client.
type Request struct {
	// Client identifies the player, usually the probe's source address.
	Client string
	// Target is the probed destination address.
	Target string
	// Protocol is the probe protocol ("icmp", "udp", "tcp"), for logs only.
	Protocol string
}

// Hop is one simulated traceroute hop.
type Hop struct {
	// Address answers the probe. An empty address is a silent hop.
	Address string
	// Delay is a synthetic round trip time. Only score rows set it.
	Delay time.Duration
}

// Response is the ordered hop list for a request.
type Response struct {
	Hops []Hop
	// Err is set when the command could not be recognized. The hops already
	// carry the matching screen.
	Err error
	// Rejected is set when a recognized command was refused by the game
	// rules: an expired session, a move to a room that is not adjacent, or
	// an invalid arrow path. The hops carry the corrective screen and end
	// with the target as usual.
	Rejected error
}

// Addresses returns the hop addresses in order.
func (r Response) Addresses() []string {
	out := make([]string, len(r.Hops))
	for i, hop := range r.Hops {
		out[i] = hop.Address
	}
	return out
}

// Score is a player's best winning time.
type Score struct {
	Player string
	Best   time.Duration
}

// Engine owns all sessions and the leaderboard.
type Engine struct {
	mu sync.Mutex

	store     storage.ScoreStore
	sessions  map[string]*game.Session
	best      map[string]time.Duration
	rng       game.Rand
	now       func() time.Time
	timeout   time.Duration
	maxScores int
	logger    *log.Logger
	debug     bool
	tracer    trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRand sets the randomness shared by all sessions. Calls are serialized
// by the engine, so rng need not be safe for concurrent use. Without it the
// engine seeds its own source.
func WithRand(rng game.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// WithSessionTimeout sets the idle time after which sessions expire.
func WithSessionTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithMaxScores sets the number of score rows.
func WithMaxScores(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxScores = n
		}
	}
}

// WithLogger sets the logger for debug lines and persistence faults.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDebug enables CMD, STATE, SHOT and SCORE log lines.
func WithDebug(debug bool) Option {
	return func(e *Engine) {
		e.debug = debug
	}
}

// New creates an engine and seeds the leaderboard from store. An unreadable
// store is fatal: starting with an empty leaderboard would hide the fault.
func New(ctx context.Context, store storage.ScoreStore, opts ...Option) (*Engine, error) {
	if store == nil {
		store = storage.Nop{}
	}
	e := &Engine{
		store:     store,
		sessions:  make(map[string]*game.Session),
		best:      make(map[string]time.Duration),
		now:       time.Now,
		timeout:   game.DefaultTimeout,
		maxScores: DefaultMaxScores,
		logger:    log.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.rng == nil {
		rng, err := random.NewSeededRand()
		if err != nil {
			return nil, fmt.Errorf("seed engine: %w", err)
		}
		e.rng = rng
	}

	records, err := store.ListScores(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeScoreStoreCorrupt, "load scores", err)
	}
	for _, record := range records {
		e.recordBest(record.Player, record.Duration)
	}
	return e, nil
}

// Handle runs one probe through the game and returns the hops to answer
// with. Calls are serialized.
func (e *Engine) Handle(ctx context.Context, req Request) Response {
	ctx, span := e.tracer.Start(ctx, "wumpus.handle", trace.WithAttributes(
		attribute.String("wumpus.client", req.Client),
		attribute.String("wumpus.target", req.Target),
		attribute.String("wumpus.protocol", req.Protocol),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.purgeExpired()
	session, ok := e.sessions[req.Client]
	if !ok {
		var opts []game.Option
		if e.debug {
			opts = append(opts, game.WithDebugLog(e.logger.Printf))
		}
		session = game.NewSession(req.Client, e.rng, e.now, opts...)
		e.sessions[req.Client] = session
	}
	session.Touch()

	cmd := addr.Decode(req.Target)
	e.debugf("CMD [client=%s, target=%s, proto=%s, cmd=%s]", req.Client, req.Target, protoOrUnknown(req.Protocol), cmd)
	span.SetAttributes(attribute.String("wumpus.command", cmd.String()))

	hops, err := e.dispatch(ctx, session, cmd)
	var rejected error
	if isRejection(err) {
		rejected, err = err, nil
		span.SetAttributes(attribute.String("wumpus.rejected", string(apperrors.CodeOf(rejected))))
		e.debugf("REJECTED [client=%s, code=%s]", req.Client, apperrors.CodeOf(rejected))
	}
	if err != nil {
		span.SetAttributes(attribute.String("wumpus.error", string(apperrors.CodeOf(err))))
		hops = append(hops, e.lineHops([]game.Line{game.LineEmpty})...)
	} else if !containsTarget(hops, req.Target) {
		hops = append(hops, Hop{Address: req.Target})
	}
	span.SetAttributes(attribute.Int("wumpus.hops", len(hops)))
	return Response{Hops: hops, Err: err, Rejected: rejected}
}

func (e *Engine) dispatch(ctx context.Context, session *game.Session, cmd addr.Command) ([]Hop, error) {
	switch c := cmd.(type) {
	case addr.Game:
		return e.dispatchGame(session, c)
	case addr.Move:
		if hops, err := e.concluded(session); hops != nil {
			return hops, err
		}
		lines := session.Move(c.Room)
		return e.lineHops(append(lines, session.RenderState(false)...)), rejection(lines)
	case addr.Shoot:
		if hops, err := e.concluded(session); hops != nil {
			return hops, err
		}
		lines := session.Shoot(c.Targets)
		hops := e.lineHops(append(lines, session.RenderState(false)...))
		if session.Won() && session.ScoresEligible() {
			e.recordWin(ctx, session)
		}
		return hops, rejection(lines)
	default:
		return e.lineHops(game.UnknownScreen()), unknownCommand(cmd)
	}
}

func (e *Engine) dispatchGame(session *game.Session, c addr.Game) ([]Hop, error) {
	switch c.Action {
	case addr.IPv4Fallback:
		return fallbackHops(), nil
	case addr.Help:
		return e.lineHops(session.RenderHelp()), nil
	}
	session.ResetHelp()

	switch c.Action {
	case addr.Map:
		return e.lineHops(game.MapScreen()), nil
	case addr.Score:
		return e.scoreHops(), nil
	case addr.Start:
		return e.lineHops(session.Start()), nil
	case addr.Play:
		return e.lineHops(session.Play()), nil
	}
	if !session.Live() {
		return e.lineHops(game.ExpiredScreen()), sessionExpired()
	}
	if c.Action == addr.Replay {
		return e.lineHops(session.Replay()), nil
	}
	return e.lineHops(game.UnknownScreen()), unknownCommand(c)
}

// concluded returns the screen for Move and Shoot on a session that cannot
// take them, or nil when the session plays on.
func (e *Engine) concluded(session *game.Session) ([]Hop, error) {
	switch {
	case !session.Live():
		return e.lineHops(game.ExpiredScreen()), sessionExpired()
	case session.Won():
		return e.lineHops(game.WinScreen()), nil
	case session.Lost():
		return e.lineHops(game.LossScreen()), nil
	}
	return nil, nil
}

// recordWin keeps the best time and appends the win to the store. A store
// failure is logged; the winning turn is answered regardless.
func (e *Engine) recordWin(ctx context.Context, session *game.Session) {
	duration := session.Duration()
	e.debugf("SCORE [client=%s, duration=%.3fs]", session.Client(), duration.Seconds())
	e.recordBest(session.Client(), duration)

	ctx, cancel := context.WithTimeout(ctx, timeouts.ScoreStore)
	defer cancel()
	record := storage.ScoreRecord{Time: e.now(), Player: session.Client(), Duration: duration}
	if err := e.store.AppendScore(ctx, record); err != nil {
		err = apperrors.Wrap(apperrors.CodeScoreStoreUnavailable, "append score", err)
		trace.SpanFromContext(ctx).RecordError(err)
		e.logger.Printf("wumpus: score not saved client=%s duration=%s: %v", session.Client(), duration, err)
	}
}

func (e *Engine) recordBest(player string, duration time.Duration) {
	if best, ok := e.best[player]; ok && best < duration {
		return
	}
	e.best[player] = duration
}

func (e *Engine) purgeExpired() {
	for client, session := range e.sessions {
		if session.Expired(e.timeout) {
			delete(e.sessions, client)
		}
	}
}

// scoreHops renders the header, one hop per ranked player whose delay is the
// gap to the previous rank, silent padding, then the play prompt.
func (e *Engine) scoreHops() []Hop {
	hops := e.lineHops(game.ScoreHeader())
	var last time.Duration
	ranked := e.leaderboard()
	for i := 0; i < e.maxScores; i++ {
		if i >= len(ranked) {
			hops = append(hops, Hop{})
			continue
		}
		hops = append(hops, Hop{Address: ranked[i].Player, Delay: ranked[i].Best - last})
		last = ranked[i].Best
	}
	return append(hops, e.lineHops([]game.Line{game.LineEmpty, game.LinePlay})...)
}

// Leaderboard returns every player's best time, fastest first.
func (e *Engine) Leaderboard() []Score {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderboard()
}

func (e *Engine) leaderboard() []Score {
	scores := make([]Score, 0, len(e.best))
	for player, best := range e.best {
		scores = append(scores, Score{Player: player, Best: best})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Best != scores[j].Best {
			return scores[i].Best < scores[j].Best
		}
		return scores[i].Player < scores[j].Player
	})
	return scores
}

// Sessions returns the number of tracked sessions.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) lineHops(lines []game.Line) []Hop {
	hops := make([]Hop, 0, len(lines))
	for _, line := range lines {
		a, err := addr.EncodeOutput(int(line))
		if err != nil {
			e.logger.Printf("wumpus: encode output line %d: %v", line, err)
			continue
		}
		hops = append(hops, Hop{Address: a.String()})
	}
	return hops
}

func fallbackHops() []Hop {
	screen := addr.FallbackScreen()
	hops := make([]Hop, len(screen))
	for i, a := range screen {
		hops[i] = Hop{Address: a.String()}
	}
	return hops
}

// containsTarget compares parsed addresses when possible so that
// non-canonical spellings of a hop still match.
func containsTarget(hops []Hop, target string) bool {
	want, err := netip.ParseAddr(strings.TrimSpace(target))
	for _, hop := range hops {
		if hop.Address == target {
			return true
		}
		if err != nil {
			continue
		}
		if got, perr := netip.ParseAddr(hop.Address); perr == nil && got == want {
			return true
		}
	}
	return false
}

func unknownCommand(cmd addr.Command) error {
	err := apperrors.WithMetadata(apperrors.CodeInvalidCommand, "unknown command", map[string]string{
		"command": cmd.String(),
	})
	if u, ok := cmd.(addr.Unknown); ok && u.Err != nil {
		err.Cause = u.Err
	}
	return err
}

func sessionExpired() error {
	return apperrors.New(apperrors.CodeSessionExpired, "session expired")
}

// rejection reports the rule a Move or Shoot broke, if its lines show one.
func rejection(lines []game.Line) error {
	for _, line := range lines {
		switch line {
		case game.LineExpired:
			return sessionExpired()
		case game.LineMoveInvalid:
			return apperrors.New(apperrors.CodeInvalidMove, "room is not adjacent")
		case game.LineShootInvalid:
			return apperrors.New(apperrors.CodeInvalidShoot, "invalid arrow path")
		}
	}
	return nil
}

func isRejection(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeSessionExpired, apperrors.CodeInvalidMove, apperrors.CodeInvalidShoot:
		return true
	}
	return false
}

func protoOrUnknown(proto string) string {
	if proto == "" {
		return "?"
	}
	return proto
}

func (e *Engine) debugf(format string, args ...any) {
	if e.debug {
		e.logger.Printf(format, args...)
	}
}
