package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusReported  MatchStatus = "reported"
	MatchStatusFinalized MatchStatus = "finalized"
)

func (s MatchStatus) IsValid() bool {
	switch s {
	case MatchStatusPending, MatchStatusReported, MatchStatusFinalized:
		return true
	}
	return false
}

type Match struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	NodeID           uuid.UUID       `json:"node_id" db:"node_id"`
	TournamentID     int             `json:"tournament_id" db:"tournament_id"`
	Round            int             `json:"round" db:"round"`
	Position         int             `json:"position" db:"position"`
	TeamAID          int             `json:"team_a_id" db:"team_a_id"`
	TeamBID          *int            `json:"team_b_id,omitempty" db:"team_b_id"`
	IsBye            bool            `json:"is_bye" db:"is_bye"`
	Status           MatchStatus     `json:"status" db:"status"`
	ReportedWinnerID *int            `json:"reported_winner_id,omitempty" db:"reported_winner_id"`
	WinnerTeamID     *int            `json:"winner_team_id,omitempty" db:"winner_team_id"`
	Payload          json.RawMessage `json:"payload,omitempty" db:"payload"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	FinalizedAt      *time.Time      `json:"finalized_at,omitempty" db:"finalized_at"`
}

// HasParticipant reports whether teamID plays in this match.
func (m *Match) HasParticipant(teamID int) bool {
	if m.TeamAID == teamID {
		return true
	}
	return m.TeamBID != nil && *m.TeamBID == teamID
}

// LoserTeamID returns the participant that is not the winner. Byes and unfinished
// matches have no loser.
func (m *Match) LoserTeamID() (int, bool) {
	if m.Status != MatchStatusFinalized || m.WinnerTeamID == nil || m.TeamBID == nil {
		return 0, false
	}
	if *m.WinnerTeamID == m.TeamAID {
		return *m.TeamBID, true
	}
	return m.TeamAID, true
}
