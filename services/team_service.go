package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Dosada05/esports-tournament/models"
	"github.com/Dosada05/esports-tournament/repositories"
)

const maxTeamNameLength = 100

type TeamService interface {
	CreateTeam(ctx context.Context, input CreateTeamInput) (*models.Team, error)
	GetTeamByID(ctx context.Context, id int) (*models.Team, error)
	ListTeams(ctx context.Context, limit, offset int) ([]models.Team, error)
}

type CreateTeamInput struct {
	Name    string
	Members *string
}

type teamService struct {
	teamRepo repositories.TeamRepository
}

func NewTeamService(teamRepo repositories.TeamRepository) TeamService {
	return &teamService{teamRepo: teamRepo}
}

func (s *teamService) CreateTeam(ctx context.Context, input CreateTeamInput) (*models.Team, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrTeamNameRequired
	}
	if utf8.RuneCountInString(name) > maxTeamNameLength {
		return nil, fmt.Errorf("%w: team name exceeds %d characters", ErrValidationFailed, maxTeamNameLength)
	}

	team := &models.Team{Name: name}
	if input.Members != nil {
		if members := strings.TrimSpace(*input.Members); members != "" {
			team.Members = &members
		}
	}

	if err := s.teamRepo.Create(ctx, team); err != nil {
		return nil, fmt.Errorf("failed to create team: %w", mapRepositoryError(err))
	}
	return team, nil
}

func (s *teamService) GetTeamByID(ctx context.Context, id int) (*models.Team, error) {
	team, err := s.teamRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get team by id %d: %w", id, mapRepositoryError(err))
	}
	return team, nil
}

func (s *teamService) ListTeams(ctx context.Context, limit, offset int) ([]models.Team, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrValidationFailed)
	}
	teams, err := s.teamRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	if teams == nil {
		return []models.Team{}, nil
	}
	return teams, nil
}
