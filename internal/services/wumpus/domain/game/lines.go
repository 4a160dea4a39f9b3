package game

// Line identifies one fixed output line. Its text lives outside the engine
// (in the PTR records of the output prefix); the engine only deals in ids.
type Line int

// Screen line ranges.
const (
	lineTitleFirst    Line = 0
	lineMapFirst      Line = 30
	linePositionFirst Line = 120
	lineTunnelsFirst  Line = 150
	lineScoreFirst    Line = 240
)

// Game lines.
const (
	LineHunt   Line = 180
	LineWin    Line = 181
	LineLoss   Line = 182
	LinePlay   Line = 183
	LineReplay Line = 184
	LineMove   Line = 185
	LineShoot  Line = 186
	LineEmpty  Line = 187
	LineScore  Line = 188
)

// Hazard proximity warnings.
const (
	LineHazardWumpus Line = 200
	LineHazardBat    Line = 201
	LineHazardPit    Line = 202
)

// Action results.
const (
	LineUnknown      Line = 220
	LineShootInvalid Line = 221
	LineShootHit     Line = 222
	LineShootSelf    Line = 223
	LineShootMissed  Line = 224
	LineMoveInvalid  Line = 225
	LineMoveWumpus   Line = 226
	LineMovePit      Line = 227
	LineMoveBat      Line = 228
	LineWumpusGotcha Line = 229
	LineExpired      Line = 230
)

func lineRange(first, end Line) []Line {
	lines := make([]Line, 0, end-first)
	for l := first; l < end; l++ {
		lines = append(lines, l)
	}
	return lines
}

var helpPages = [...][2]Line{
	{60, 75},
	{75, 86},
	{86, 99},
	{99, 112},
}

// HelpPageCount is the number of rotating help pages.
const HelpPageCount = len(helpPages)

// PositionLine is the "you are in room N" line.
func PositionLine(room int) Line { return linePositionFirst + Line(room-1) }

// TunnelsLine is the "tunnels lead to ..." line of room.
func TunnelsLine(room int) Line { return lineTunnelsFirst + Line(room-1) }

// TitleScreen is shown on start.
func TitleScreen() []Line { return lineRange(lineTitleFirst, lineTitleFirst+20) }

// MapScreen draws the cave.
func MapScreen() []Line { return lineRange(lineMapFirst, lineMapFirst+19) }

// HelpScreen returns help page n, counted from zero.
func HelpScreen(n int) []Line {
	page := helpPages[n%HelpPageCount]
	return lineRange(page[0], page[1])
}

// ScoreHeader precedes the high score rows.
func ScoreHeader() []Line { return lineRange(lineScoreFirst, lineScoreFirst+9) }

// ExpiredScreen is returned for commands on a session that is not live.
func ExpiredScreen() []Line {
	return []Line{LineEmpty, LineExpired, LineEmpty, LinePlay}
}

// UnknownScreen is returned for commands that cannot be acted on.
func UnknownScreen() []Line {
	return []Line{LineEmpty, LineUnknown}
}

// WinScreen is returned once the wumpus has been shot.
func WinScreen() []Line {
	return []Line{LineEmpty, LineWin, LineEmpty, LinePlay, LineReplay}
}

// LossScreen is returned once the player has lost.
func LossScreen() []Line {
	return []Line{LineEmpty, LineLoss, LineEmpty, LinePlay, LineReplay}
}
