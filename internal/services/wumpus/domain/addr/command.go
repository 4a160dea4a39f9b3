package addr

import (
	"fmt"
	"strconv"
	"strings"
)

// GameAction identifies a game-prefix command.
type GameAction int

const (
	Start GameAction = iota
	Play
	Replay
	Help
	Map
	Score

	// IPv4Fallback is never encoded in a game address; it is selected by
	// the literal fallback IPv4 target.
	IPv4Fallback GameAction = -1
)

func (a GameAction) String() string {
	switch a {
	case Start:
		return "start"
	case Play:
		return "play"
	case Replay:
		return "replay"
	case Help:
		return "help"
	case Map:
		return "map"
	case Score:
		return "score"
	case IPv4Fallback:
		return "ipv4"
	default:
		return "game(" + strconv.Itoa(int(a)) + ")"
	}
}

// Command is the decoded form of a target address. The concrete type is one
// of Game, Move, Shoot or Unknown.
type Command interface {
	fmt.Stringer
	command()
}

// Game carries a game-prefix action. Action may hold an ordinal outside the
// defined set when a client crafts its own address.
type Game struct {
	Action GameAction
}

// Move carries the room number of a move-prefix address.
type Move struct {
	Room int
}

// Shoot carries the ordered arrow targets of a shoot-prefix address.
type Shoot struct {
	Targets []int
}

// Unknown is any target that matches no command prefix.
type Unknown struct {
	// Err explains why decoding failed, for logging only.
	Err error
}

func (Game) command()    {}
func (Move) command()    {}
func (Shoot) command()   {}
func (Unknown) command() {}

func (c Game) String() string { return "game " + c.Action.String() }

func (c Move) String() string { return "move " + strconv.Itoa(c.Room) }

func (c Shoot) String() string {
	parts := make([]string, len(c.Targets))
	for i, target := range c.Targets {
		parts[i] = strconv.Itoa(target)
	}
	return "shoot " + strings.Join(parts, ",")
}

func (c Unknown) String() string {
	if c.Err != nil {
		return "unknown (" + c.Err.Error() + ")"
	}
	return "unknown"
}
