package domain

import "errors"

var (
	// ErrBadPhase is returned when a presenter command is not valid in the
	// round's current phase.
	ErrBadPhase = errors.New("command not valid in current phase")
	// ErrNoGame is returned when a round command arrives before a game exists.
	ErrNoGame = errors.New("no game in progress")
	// ErrNoClaimHeld is returned when validating or reopening without a held claim.
	ErrNoClaimHeld = errors.New("no buzz claim held")
	// ErrClaimExcluded rejects claims from participants overturned earlier in the round.
	ErrClaimExcluded = errors.New("participant excluded for this round")
	// ErrClaimAlreadyHeld rejects claims while another claim is held.
	ErrClaimAlreadyHeld = errors.New("another claim is already held")
	// ErrNotConnected indicates the realtime channel is down; broadcasts are dropped.
	ErrNotConnected = errors.New("realtime channel not connected")
	// ErrGameExhausted indicates the backend has no further questions.
	ErrGameExhausted = errors.New("question sequence exhausted")
	// ErrUnknownBuzzer is returned for roster lookups of unregistered participants.
	ErrUnknownBuzzer = errors.New("buzzer not in roster")
)
