package brackets

import "errors"

// Ошибки движка сетки.
var (
	ErrInsufficientTeams   = errors.New("not enough teams to generate a single elimination bracket (minimum 2)")
	ErrDuplicateTeam       = errors.New("team is listed more than once")
	ErrMatchNotFound       = errors.New("match not found")
	ErrAlreadyFinalized    = errors.New("match result has already been finalized")
	ErrInvalidWinner       = errors.New("winner is not a participant of this match")
	ErrMatchNotReady       = errors.New("match is not ready: an input slot is still unresolved")
	ErrMatchNotReported    = errors.New("match has no reported result to confirm")
	ErrMatchNotFinalized   = errors.New("match is not finalized")
	ErrSlotAlreadyResolved = errors.New("bracket slot already holds a team")
	ErrCorruptTree         = errors.New("bracket tree is inconsistent")
)
