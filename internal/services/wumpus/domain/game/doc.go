// Package game implements one player's Hunt the Wumpus game: the cave, the
// hazards and the rules that turn a command into output lines.
//
// Sessions never talk to the network; they return Line ids that the engine
// encodes into addresses.
package game
