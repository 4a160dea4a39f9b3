// Package errors provides coded errors shared by the wumpus transports.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Command errors
	CodeInvalidCommand Code = "INVALID_COMMAND"
	CodeSessionExpired Code = "SESSION_EXPIRED"
	CodeInvalidMove    Code = "INVALID_MOVE"
	CodeInvalidShoot   Code = "INVALID_SHOOT"

	// Score store errors
	CodeScoreStoreUnavailable Code = "SCORE_STORE_UNAVAILABLE"
	CodeScoreStoreCorrupt     Code = "SCORE_STORE_CORRUPT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - bad input
	case CodeInvalidCommand,
		CodeInvalidMove,
		CodeInvalidShoot:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeSessionExpired:
		return codes.FailedPrecondition

	case CodeScoreStoreUnavailable:
		return codes.Unavailable

	case CodeScoreStoreCorrupt:
		return codes.DataLoss

	default:
		return codes.Internal
	}
}

var userMessages = map[Code]string{
	CodeInvalidCommand:        "Unknown command.",
	CodeSessionExpired:        "Your session expired. Start a new game.",
	CodeInvalidMove:           "You can only move to an adjacent room.",
	CodeInvalidShoot:          "Aim through one to five distinct rooms.",
	CodeScoreStoreUnavailable: "High scores are unavailable.",
	CodeScoreStoreCorrupt:     "High scores could not be read.",
}

// UserMessage returns the player-facing text for c.
func (c Code) UserMessage() string {
	if msg, ok := userMessages[c]; ok {
		return msg
	}
	return "Something went wrong."
}
