package models

import "github.com/google/uuid"

type SlotState string

const (
	SlotUnresolved SlotState = "unresolved"
	SlotBye        SlotState = "bye"
	SlotTeam       SlotState = "team"
)

// Slot is one of the two inputs of a bracket node.
type Slot struct {
	State  SlotState `json:"state"`
	TeamID *int      `json:"team_id,omitempty"`
}

func TeamSlot(teamID int) Slot {
	id := teamID
	return Slot{State: SlotTeam, TeamID: &id}
}

func ByeSlot() Slot {
	return Slot{State: SlotBye}
}

func UnresolvedSlot() Slot {
	return Slot{State: SlotUnresolved}
}

func (s Slot) Resolved() bool {
	return s.State != SlotUnresolved
}

// BracketNode is a structural slot of the tree at (Round, Position). Round 1 is the
// first round; the node feeds (Round+1, Position/2).
type BracketNode struct {
	ID           uuid.UUID `json:"id" db:"id"`
	TournamentID int       `json:"tournament_id" db:"tournament_id"`
	Round        int       `json:"round" db:"round"`
	Position     int       `json:"position" db:"position"`
	SlotA        Slot      `json:"slot_a" db:"-"`
	SlotB        Slot      `json:"slot_b" db:"-"`
	WinnerTeamID *int      `json:"winner_team_id,omitempty" db:"winner_team_id"`
}

func (n *BracketNode) Ready() bool {
	return n.SlotA.Resolved() && n.SlotB.Resolved()
}

func (n *BracketNode) HasBye() bool {
	return n.SlotA.State == SlotBye || n.SlotB.State == SlotBye
}
