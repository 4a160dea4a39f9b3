package game

import "time"

// StartingAmmo is the number of arrows at the start of every game.
const StartingAmmo = 5

// MaxShotTargets bounds the rooms a single arrow may be aimed through.
const MaxShotTargets = 5

// DefaultTimeout is the idle time after which a session expires.
const DefaultTimeout = 300 * time.Second

// batRooms is the number of bat hazards; it bounds hazard re-resolution.
const batRooms = 2

// Logf receives debug lines.
type Logf func(format string, args ...any)

// Session is the game of one client.
//
// A session moves through Fresh (no layout) → Titled (after Start) → Active
// (after Play or Replay) → Won or Lost. Replay and Play restart it from any
// state; idle expiry makes it non-live until the next Play.
type Session struct {
	client string
	rng    Rand
	now    func() time.Time
	logf   Logf

	initial *Layout
	layout  *Layout

	ammo   int
	live   bool
	won    bool
	lost   bool
	scores bool

	started  time.Time
	duration time.Duration
	helpPage int
	lastSeen time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithDebugLog routes STATE and SHOT lines to logf.
func WithDebugLog(logf Logf) Option {
	return func(s *Session) {
		s.logf = logf
	}
}

// NewSession creates a fresh session for client. A nil now uses time.Now.
func NewSession(client string, rng Rand, now func() time.Time, opts ...Option) *Session {
	if now == nil {
		now = time.Now
	}
	s := &Session{
		client:   client,
		rng:      rng,
		now:      now,
		ammo:     StartingAmmo,
		helpPage: -1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.lastSeen = now()
	return s
}

// Client returns the id of the session owner.
func (s *Session) Client() string { return s.client }

// Live reports whether a game is running and the session has not expired.
func (s *Session) Live() bool { return s.live }

// Won reports whether the current game was won.
func (s *Session) Won() bool { return s.won }

// Lost reports whether the current game was lost.
func (s *Session) Lost() bool { return s.lost }

// ScoresEligible reports whether the current game started from a fresh layout.
func (s *Session) ScoresEligible() bool { return s.scores }

// Ammo returns the arrows left.
func (s *Session) Ammo() int { return s.ammo }

// Duration returns the time from the first Play to the last win or loss.
func (s *Session) Duration() time.Duration { return s.duration }

// Layout returns the current entity placement.
func (s *Session) Layout() (Layout, bool) {
	if s.layout == nil {
		return Layout{}, false
	}
	return *s.layout, true
}

// InitialLayout returns the layout Replay restores.
func (s *Session) InitialLayout() (Layout, bool) {
	if s.initial == nil {
		return Layout{}, false
	}
	return *s.initial, true
}

// Touch renews the idle timer.
func (s *Session) Touch() { s.lastSeen = s.now() }

// Expired reports whether the session has been idle for at least timeout,
// and marks it non-live if so.
func (s *Session) Expired(timeout time.Duration) bool {
	if s.now().Sub(s.lastSeen) < timeout {
		return false
	}
	s.live = false
	return true
}

// Start discards both layouts and shows the title screen.
func (s *Session) Start() []Line {
	s.initial = nil
	s.layout = nil
	s.live = false
	return TitleScreen()
}

// Play starts a game on a freshly sampled layout. Only such games score.
func (s *Session) Play() []Line {
	layout := RandomLayout(s.rng)
	initial := layout
	s.initial = &initial
	s.begin(layout, true)
	return s.RenderState(true)
}

// Replay restarts the game on the layout of the last Play. It never scores.
func (s *Session) Replay() []Line {
	if s.initial == nil {
		return s.Play()
	}
	s.begin(*s.initial, false)
	return s.RenderState(true)
}

func (s *Session) begin(layout Layout, scores bool) {
	s.layout = &layout
	s.scores = scores
	s.live = true
	s.won = false
	s.lost = false
	s.ammo = StartingAmmo
	if s.started.IsZero() {
		s.started = s.now()
	}
}

// finish concludes the game and stops the clock.
func (s *Session) finish(won bool) {
	s.duration = s.now().Sub(s.started)
	s.started = time.Time{}
	s.won = won
	s.lost = !won
}

// ResetHelp makes the next RenderHelp start at the first page.
func (s *Session) ResetHelp() { s.helpPage = -1 }

// RenderHelp returns the next help page.
func (s *Session) RenderHelp() []Line {
	s.helpPage = (s.helpPage + 1) % HelpPageCount
	return HelpScreen(s.helpPage)
}

// RenderState describes the current room, or the win/loss screen once the
// game is over. initial adds the hunt banner.
func (s *Session) RenderState(initial bool) []Line {
	if s.layout == nil {
		return ExpiredScreen()
	}
	l := *s.layout
	s.debugf("STATE [client=%s, %s%s, arrows=%d]", s.client, s.outcome(), l, s.ammo)

	if s.won {
		return WinScreen()
	}
	if s.lost {
		return LossScreen()
	}

	out := []Line{LineEmpty}
	if initial {
		out = append(out, LineHunt, LineEmpty)
	}

	hazards := []struct {
		rooms   []int
		warning Line
	}{
		{[]int{l.Wumpus}, LineHazardWumpus},
		{[]int{l.Pit1, l.Pit2}, LineHazardPit},
		{[]int{l.Bat1, l.Bat2}, LineHazardBat},
	}
	warned := false
	for _, h := range hazards {
		for _, room := range h.rooms {
			if Adjacent(room, l.Player) {
				out = append(out, h.warning)
				warned = true
			}
		}
	}
	if warned {
		out = append(out, LineEmpty)
	}

	return append(out,
		PositionLine(l.Player),
		TunnelsLine(l.Player),
		LineEmpty,
		LineMove,
		LineShoot,
	)
}

func (s *Session) outcome() string {
	switch {
	case s.won:
		return "win, "
	case s.lost:
		return "loss, "
	}
	return ""
}

// Move walks the player through a tunnel into room and resolves whatever
// waits there. Rooms that are not neighbors are rejected without change.
func (s *Session) Move(room int) []Line {
	if s.layout == nil {
		return ExpiredScreen()
	}
	if !Adjacent(s.layout.Player, room) {
		return []Line{LineEmpty, LineMoveInvalid}
	}
	s.layout.Player = room

	out := s.resolveHazards()
	if s.lost {
		return out
	}
	if s.layout.Wumpus == s.layout.Player {
		out = append(out, LineEmpty, LineMoveWumpus)
		out = append(out, s.moveWumpus()...)
	}
	return out
}

// resolveHazards handles pits and bats in the player's room. A bat drops the
// player in a room without bats, so one relocation per bat room is the most
// that can happen before the player lands somewhere final.
func (s *Session) resolveHazards() []Line {
	var out []Line
	for i := 0; i <= batRooms; i++ {
		l := s.layout
		switch {
		case l.isPit(l.Player):
			s.finish(false)
			return append(out, LineEmpty, LineMovePit)
		case l.isBat(l.Player):
			l.Player = s.batDrop()
			out = append(out, LineEmpty, LineMoveBat)
		default:
			return out
		}
	}
	return out
}

// batDrop picks a room uniformly among those without a bat.
func (s *Session) batDrop() int {
	rooms := make([]int, 0, RoomCount)
	for room := 1; room <= RoomCount; room++ {
		if !s.layout.isBat(room) {
			rooms = append(rooms, room)
		}
	}
	return rooms[s.rng.Intn(len(rooms))]
}

// moveWumpus lets the wumpus wander to a neighbor with probability 3/4.
func (s *Session) moveWumpus() []Line {
	l := s.layout
	if step := s.rng.Intn(4); step < 3 {
		l.Wumpus = Neighbors(l.Wumpus)[step]
	}
	if l.Wumpus == l.Player {
		s.finish(false)
		return []Line{LineEmpty, LineWumpusGotcha}
	}
	return nil
}

// Shoot fires an arrow through up to five rooms. Targets that are not
// reachable from the arrow's current room send it down a random tunnel.
// A miss costs one arrow and wakes the wumpus.
func (s *Session) Shoot(targets []int) []Line {
	if s.layout == nil {
		return ExpiredScreen()
	}
	out := []Line{LineEmpty}
	if !validShot(targets) {
		return append(out, LineShootInvalid)
	}

	l := s.layout
	arrow := l.Player
	for _, target := range targets {
		from := arrow
		if Adjacent(arrow, target) {
			arrow = target
		} else {
			arrow = Neighbors(arrow)[s.rng.Intn(3)]
		}
		s.debugf("SHOT [client=%s, room=%d, valid=%v, shot=%d, wumpus=%d]",
			s.client, target, Neighbors(from), arrow, l.Wumpus)

		if arrow == l.Wumpus {
			s.finish(true)
			return append(out, LineShootHit)
		}
		if arrow == l.Player {
			s.finish(false)
			return append(out, LineShootSelf)
		}
	}

	out = append(out, LineShootMissed)
	s.ammo--
	if s.ammo <= 0 {
		s.ammo = 0
		s.finish(false)
		return out
	}
	return append(out, s.moveWumpus()...)
}

// validShot accepts 1..MaxShotTargets distinct targets.
func validShot(targets []int) bool {
	if len(targets) < 1 || len(targets) > MaxShotTargets {
		return false
	}
	seen := make(map[int]bool, len(targets))
	for _, target := range targets {
		if seen[target] {
			return false
		}
		seen[target] = true
	}
	return true
}

func (s *Session) debugf(format string, args ...any) {
	if s.logf != nil {
		s.logf(format, args...)
	}
}
