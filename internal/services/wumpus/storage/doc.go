// Package storage defines the persistence contract for the high score list.
//
// Scores are append-only: every scoring win adds one record, and the engine
// folds all records into per-player best times at startup. Backends live in
// subpackages (textfile, sqlite).
package storage
