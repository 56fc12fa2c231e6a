package models

type LeaderboardEntry struct {
	TeamID          int    `json:"team_id"`
	TeamName        string `json:"team_name"`
	Seed            int    `json:"seed"`
	Wins            int    `json:"wins"`
	Losses          int    `json:"losses"`
	EliminatedRound *int   `json:"eliminated_round"`
	Rank            *int   `json:"rank"`
	IsChampion      bool   `json:"is_champion"`
}
