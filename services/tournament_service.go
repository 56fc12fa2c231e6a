package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Dosada05/esports-tournament/models"
	"github.com/Dosada05/esports-tournament/repositories"
	"github.com/Dosada05/esports-tournament/storage"
)

const maxTournamentNameLength = 150

type TournamentService interface {
	CreateTournament(ctx context.Context, input CreateTournamentInput) (*models.Tournament, error)
	GetTournamentByID(ctx context.Context, id int) (*models.Tournament, error)
	ListTournaments(ctx context.Context, input ListTournamentsInput) ([]models.Tournament, error)
	RegisterTeams(ctx context.Context, tournamentID int, teamIDs []int) (*RegistrationResult, error)
}

type CreateTournamentInput struct {
	Name string
}

type ListTournamentsInput struct {
	Status *models.TournamentStatus
	Limit  int
	Offset int
}

type RegistrationResult struct {
	TournamentID int   `json:"tournament_id"`
	Registered   []int `json:"registered"`
	// Уже зарегистрированные команды пропускаются без ошибки.
	Skipped []int `json:"skipped"`
}

type tournamentService struct {
	db             *sql.DB
	tournamentRepo repositories.TournamentRepository
	teamRepo       repositories.TeamRepository
	uploader       storage.FileUploader
	logger         *slog.Logger
}

func NewTournamentService(
	db *sql.DB,
	tournamentRepo repositories.TournamentRepository,
	teamRepo repositories.TeamRepository,
	uploader storage.FileUploader,
	logger *slog.Logger,
) TournamentService {
	return &tournamentService{
		db:             db,
		tournamentRepo: tournamentRepo,
		teamRepo:       teamRepo,
		uploader:       uploader,
		logger:         defaultLogger(logger),
	}
}

func (s *tournamentService) CreateTournament(ctx context.Context, input CreateTournamentInput) (*models.Tournament, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrTournamentNameRequired
	}
	if utf8.RuneCountInString(name) > maxTournamentNameLength {
		return nil, fmt.Errorf("%w: tournament name exceeds %d characters", ErrValidationFailed, maxTournamentNameLength)
	}

	tournament := &models.Tournament{Name: name, Status: models.StatusCreated}
	if err := s.tournamentRepo.Create(ctx, tournament); err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", mapRepositoryError(err))
	}
	tournament.Teams = []models.Team{}
	s.logger.InfoContext(ctx, "Tournament created", slog.Int("tournament_id", tournament.ID), slog.String("name", tournament.Name))
	return tournament, nil
}

func (s *tournamentService) GetTournamentByID(ctx context.Context, id int) (*models.Tournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament by id %d: %w", id, mapRepositoryError(err))
	}
	teams, err := s.tournamentRepo.ListRegisteredTeams(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load teams of tournament %d: %w", id, err)
	}
	tournament.Teams = teams
	populateArchiveURL(tournament, s.uploader)
	return tournament, nil
}

func (s *tournamentService) ListTournaments(ctx context.Context, input ListTournamentsInput) ([]models.Tournament, error) {
	if input.Status != nil && !input.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown tournament status %q", ErrValidationFailed, *input.Status)
	}
	if input.Limit < 0 || input.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrValidationFailed)
	}

	tournaments, err := s.tournamentRepo.List(ctx, repositories.ListTournamentsFilter{
		Status: input.Status,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	for i := range tournaments {
		populateArchiveURL(&tournaments[i], s.uploader)
	}
	return tournaments, nil
}

// RegisterTeams регистрирует команды в порядке teamIDs, этот порядок становится посевом.
// Строка турнира блокируется, поэтому регистрация не гоняется с генерацией сетки.
func (s *tournamentService) RegisterTeams(ctx context.Context, tournamentID int, teamIDs []int) (*RegistrationResult, error) {
	ids := uniqueIDs(teamIDs)
	if len(ids) == 0 {
		return nil, ErrNoTeamsProvided
	}
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid team id %d", ErrValidationFailed, id)
		}
	}

	result := &RegistrationResult{TournamentID: tournamentID, Registered: []int{}, Skipped: []int{}}
	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		tournament, err := s.tournamentRepo.GetByIDForUpdate(ctx, tx, tournamentID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if tournament.Status != models.StatusCreated {
			return fmt.Errorf("%w (status: %s)", ErrRegistrationClosed, tournament.Status)
		}

		found, err := s.teamRepo.ListByIDs(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("failed to load teams: %w", err)
		}
		if missing := missingIDs(ids, found); len(missing) > 0 {
			return fmt.Errorf("%w: %v", ErrTeamNotFound, missing)
		}

		for _, id := range ids {
			added, err := s.tournamentRepo.RegisterTeam(ctx, tx, tournamentID, id)
			if err != nil {
				return fmt.Errorf("failed to register team %d: %w", id, mapRepositoryError(err))
			}
			if added {
				result.Registered = append(result.Registered, id)
			} else {
				result.Skipped = append(result.Skipped, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Teams registered",
		slog.Int("tournament_id", tournamentID),
		slog.Int("registered", len(result.Registered)),
		slog.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func uniqueIDs(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func missingIDs(want []int, found []models.Team) []int {
	have := make(map[int]bool, len(found))
	for _, t := range found {
		have[t.ID] = true
	}
	var missing []int
	for _, id := range want {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func populateArchiveURL(tournament *models.Tournament, uploader storage.FileUploader) {
	if tournament == nil || tournament.ArchiveKey == nil || *tournament.ArchiveKey == "" || uploader == nil {
		return
	}
	if url := uploader.GetPublicURL(*tournament.ArchiveKey); url != "" {
		tournament.ArchiveURL = &url
	}
}
