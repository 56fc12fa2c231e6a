package models

import "time"

// TournamentStatus представляет статусы турнира, соответствующие ENUM в БД.
type TournamentStatus string

const (
	StatusCreated          TournamentStatus = "created"
	StatusBracketGenerated TournamentStatus = "bracket_generated"
	StatusInProgress       TournamentStatus = "in_progress"
	StatusCompleted        TournamentStatus = "completed"
)

func (s TournamentStatus) IsValid() bool {
	switch s {
	case StatusCreated, StatusBracketGenerated, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Tournament представляет турнир.
type Tournament struct {
	ID             int              `json:"id" db:"id"`
	Name           string           `json:"name" db:"name"`
	Status         TournamentStatus `json:"status" db:"status"`
	BracketSize    int              `json:"bracket_size" db:"bracket_size"`
	Rounds         int              `json:"rounds" db:"rounds"`
	ChampionTeamID *int             `json:"champion_team_id,omitempty" db:"champion_team_id"`
	BracketVersion int              `json:"bracket_version" db:"bracket_version"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	ArchiveKey     *string          `json:"-" db:"archive_key"`
	ArchiveURL     *string          `json:"archive_url,omitempty" db:"-"`

	// Зарегистрированные команды в порядке регистрации (не мапятся напрямую)
	Teams []Team `json:"teams,omitempty" db:"-"`
}

// Registration links a team to a tournament. Seed is the 1-based registration order.
type Registration struct {
	TournamentID int       `json:"tournament_id" db:"tournament_id"`
	TeamID       int       `json:"team_id" db:"team_id"`
	Seed         int       `json:"seed" db:"seed"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}
