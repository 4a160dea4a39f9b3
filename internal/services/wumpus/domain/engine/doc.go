// Package engine routes probes to game sessions.
//
// The engine keeps one session per client id, expires idle sessions lazily
// on the next call, and holds the best winning time of every player. Each
// call to Handle decodes the probed address, runs the command against the
// client's session and returns the resulting output lines as hops.
package engine
