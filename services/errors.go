package services

import (
	"errors"

	"github.com/Dosada05/esports-tournament/brackets"
)

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден (универсальная)
	ErrNotFound = errors.New("requested resource not found")

	// Ошибки валидации и бизнес-правил
	ErrValidationFailed       = errors.New("validation failed")
	ErrTeamNameRequired       = errors.New("team name is required")
	ErrTournamentNameRequired = errors.New("tournament name is required")
	ErrNoTeamsProvided        = errors.New("at least one team id is required")
	ErrRegistrationClosed     = errors.New("tournament registration is closed: bracket already generated")

	// Ошибки конфликтов
	ErrTeamNameConflict       = errors.New("team name is already in use")
	ErrTournamentNameConflict = errors.New("tournament name already exists")
	ErrAlreadyGenerated       = errors.New("bracket has already been generated for this tournament")

	// Ошибки аутентификации и авторизации
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbiddenOperation   = errors.New("operation not allowed for the current user")

	ErrTeamNotFound       = errors.New("team not found")
	ErrTournamentNotFound = errors.New("tournament not found")
)

// Ошибки движка сетки, под теми же значениями, чтобы errors.Is работал на любом уровне.
var (
	ErrInsufficientTeams = brackets.ErrInsufficientTeams
	ErrMatchNotFound     = brackets.ErrMatchNotFound
	ErrAlreadyFinalized  = brackets.ErrAlreadyFinalized
	ErrInvalidWinner     = brackets.ErrInvalidWinner
	ErrMatchNotReady     = brackets.ErrMatchNotReady
	ErrMatchNotReported  = brackets.ErrMatchNotReported
)
