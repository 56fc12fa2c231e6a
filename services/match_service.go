package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/esports-tournament/brackets"
	"github.com/Dosada05/esports-tournament/models"
	"github.com/Dosada05/esports-tournament/repositories"
	"github.com/google/uuid"
)

type MatchService interface {
	// SubmitResult финализирует матч и продвигает победителя по сетке.
	SubmitResult(ctx context.Context, matchID uuid.UUID, input SubmitResultInput) (*SubmitResultOutput, error)
	// ReportResult записывает неподтверждённый результат.
	ReportResult(ctx context.Context, matchID uuid.UUID, input SubmitResultInput) (*models.Match, error)
	// ConfirmResult финализирует матч с ранее заявленным победителем.
	ConfirmResult(ctx context.Context, matchID uuid.UUID) (*SubmitResultOutput, error)
	ListMatches(ctx context.Context, tournamentID int, filter MatchFilter) ([]*models.Match, error)
}

type SubmitResultInput struct {
	WinnerTeamID int
	Payload      json.RawMessage
}

type MatchFilter struct {
	Round  *int
	Status *models.MatchStatus
}

type SubmitResultOutput struct {
	Match            *models.Match           `json:"match"`
	CreatedMatches   []*models.Match         `json:"created_matches"`
	TournamentStatus models.TournamentStatus `json:"tournament_status"`
	Completed        bool                    `json:"tournament_completed"`
	ChampionTeamID   *int                    `json:"champion_team_id,omitempty"`
	// NextMatch: матч, в который попал победитель, если он уже создан;
	// иначе NextNodeID указывает на ожидающий узел.
	NextMatch  *models.Match `json:"next_match,omitempty"`
	NextNodeID *uuid.UUID    `json:"next_node_id,omitempty"`
	ArchiveKey *string       `json:"-"`
}

type matchService struct {
	db             *sql.DB
	tournamentRepo repositories.TournamentRepository
	nodeRepo       repositories.BracketNodeRepository
	matchRepo      repositories.MatchRepository
	archiver       *BracketArchiver
	logger         *slog.Logger
	now            func() time.Time
}

func NewMatchService(
	db *sql.DB,
	tournamentRepo repositories.TournamentRepository,
	nodeRepo repositories.BracketNodeRepository,
	matchRepo repositories.MatchRepository,
	archiver *BracketArchiver,
	logger *slog.Logger,
) MatchService {
	return &matchService{
		db:             db,
		tournamentRepo: tournamentRepo,
		nodeRepo:       nodeRepo,
		matchRepo:      matchRepo,
		archiver:       archiver,
		logger:         defaultLogger(logger),
		now:            utcNow,
	}
}

// lockedBracket: дерево турнира, загруженное внутри транзакции после блокировки
// матча, его узла и родителя.
type lockedBracket struct {
	tournament *models.Tournament
	tree       *brackets.Tree
	match      *models.Match
}

func (s *matchService) SubmitResult(ctx context.Context, matchID uuid.UUID, input SubmitResultInput) (*SubmitResultOutput, error) {
	if input.WinnerTeamID <= 0 {
		return nil, fmt.Errorf("%w: winner_team_id is required", ErrValidationFailed)
	}
	if err := validatePayload(input.Payload); err != nil {
		return nil, err
	}
	return s.finalize(ctx, matchID, func(b *lockedBracket) (*models.Match, []*models.Match, error) {
		return b.tree.SubmitResult(b.match.ID, input.WinnerTeamID, input.Payload, s.now())
	})
}

func (s *matchService) ConfirmResult(ctx context.Context, matchID uuid.UUID) (*SubmitResultOutput, error) {
	return s.finalize(ctx, matchID, func(b *lockedBracket) (*models.Match, []*models.Match, error) {
		return b.tree.ConfirmResult(b.match.ID, s.now())
	})
}

func (s *matchService) ReportResult(ctx context.Context, matchID uuid.UUID, input SubmitResultInput) (*models.Match, error) {
	if input.WinnerTeamID <= 0 {
		return nil, fmt.Errorf("%w: winner_team_id is required", ErrValidationFailed)
	}
	if err := validatePayload(input.Payload); err != nil {
		return nil, err
	}

	var reported *models.Match
	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		b, err := s.lock(ctx, tx, matchID)
		if err != nil {
			return err
		}
		reported, err = b.tree.ReportResult(b.match.ID, input.WinnerTeamID, input.Payload)
		if err != nil {
			return err
		}
		_, err = persistChanges(ctx, tx, b.tree, s.tournamentRepo, s.nodeRepo, s.matchRepo)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Match result reported",
		slog.String("match_id", reported.ID.String()),
		slog.Int("tournament_id", reported.TournamentID),
		slog.Int("reported_winner_id", input.WinnerTeamID),
	)
	return reported, nil
}

func (s *matchService) finalize(
	ctx context.Context,
	matchID uuid.UUID,
	apply func(b *lockedBracket) (*models.Match, []*models.Match, error),
) (*SubmitResultOutput, error) {
	var (
		out      *SubmitResultOutput
		locked   *lockedBracket
		finished bool
	)

	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		b, err := s.lock(ctx, tx, matchID)
		if err != nil {
			return err
		}
		wasCompleted := b.tree.Status == models.StatusCompleted

		finalized, cascade, err := apply(b)
		if err != nil {
			return err
		}
		version, err := persistChanges(ctx, tx, b.tree, s.tournamentRepo, s.nodeRepo, s.matchRepo)
		if err != nil {
			return err
		}

		applyTreeState(b.tournament, b.tree)
		b.tournament.BracketVersion = version
		finished = !wasCompleted && b.tree.Status == models.StatusCompleted
		locked = b
		out = buildSubmitOutput(b.tree, finalized, cascade)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Match result finalized",
		slog.String("match_id", out.Match.ID.String()),
		slog.Int("tournament_id", out.Match.TournamentID),
		slog.Int("winner_team_id", *out.Match.WinnerTeamID),
		slog.Int("created_matches", len(out.CreatedMatches)),
	)
	if finished {
		s.logger.InfoContext(ctx, "Tournament completed",
			slog.Int("tournament_id", locked.tournament.ID),
			slog.Int("champion_team_id", *locked.tree.ChampionTeamID),
		)
		out.ArchiveKey = s.archiver.Archive(ctx, locked.tournament, locked.tree)
	}
	return out, nil
}

// lock блокирует строку матча, затем его узел и родителя в порядке раундов, затем
// строку турнира, и только после этого читает сетку. Один и тот же порядок во всех
// транзакциях исключает взаимоблокировки.
func (s *matchService) lock(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*lockedBracket, error) {
	m, err := s.matchRepo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		if !errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, fmt.Errorf("failed to load match %s: %w", id, err)
		}
		node, nodeErr := s.nodeRepo.GetByID(ctx, tx, id)
		switch {
		case nodeErr == nil:
			return nil, fmt.Errorf("%w: round %d position %d", ErrMatchNotReady, node.Round, node.Position)
		case errors.Is(nodeErr, repositories.ErrBracketNodeNotFound):
			return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
		default:
			return nil, fmt.Errorf("failed to load bracket node %s: %w", id, nodeErr)
		}
	}
	if m.Status == models.MatchStatusFinalized {
		return nil, fmt.Errorf("%w: match %s", ErrAlreadyFinalized, m.ID)
	}

	tournament, err := s.tournamentRepo.GetByID(ctx, tx, m.TournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	keys := []repositories.NodeKey{{Round: m.Round, Position: m.Position}}
	if m.Round < tournament.Rounds {
		pr, pp, _ := brackets.ParentOf(m.Round, m.Position)
		keys = append(keys, repositories.NodeKey{Round: pr, Position: pp})
	}
	if _, err := s.nodeRepo.LockNodes(ctx, tx, m.TournamentID, keys); err != nil {
		return nil, err
	}
	tournament, err = s.tournamentRepo.GetByIDForUpdate(ctx, tx, m.TournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	nodes, err := s.nodeRepo.ListByTournament(ctx, tx, m.TournamentID)
	if err != nil {
		return nil, err
	}
	matches, err := s.matchRepo.ListByTournament(ctx, tx, m.TournamentID, repositories.MatchFilter{})
	if err != nil {
		return nil, err
	}
	tree, err := brackets.LoadTree(tournament, nodes, matches)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stored bracket is inconsistent", slog.Int("tournament_id", m.TournamentID), slog.Any("error", err))
		return nil, err
	}
	return &lockedBracket{tournament: tournament, tree: tree, match: m}, nil
}

func (s *matchService) ListMatches(ctx context.Context, tournamentID int, filter MatchFilter) ([]*models.Match, error) {
	if filter.Round != nil && *filter.Round < 1 {
		return nil, fmt.Errorf("%w: round must be positive", ErrValidationFailed)
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown match status %q", ErrValidationFailed, *filter.Status)
	}
	if _, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID); err != nil {
		return nil, mapRepositoryError(err)
	}

	matches, err := s.matchRepo.ListByTournament(ctx, nil, tournamentID, repositories.MatchFilter{
		Round:  filter.Round,
		Status: filter.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list matches of tournament %d: %w", tournamentID, err)
	}
	return matches, nil
}

func buildSubmitOutput(tree *brackets.Tree, finalized *models.Match, cascade []*models.Match) *SubmitResultOutput {
	out := &SubmitResultOutput{
		Match:            finalized,
		CreatedMatches:   cascade,
		TournamentStatus: tree.Status,
		Completed:        tree.Status == models.StatusCompleted,
		ChampionTeamID:   tree.ChampionTeamID,
	}
	if out.CreatedMatches == nil {
		out.CreatedMatches = []*models.Match{}
	}
	if finalized.Round < tree.Rounds {
		pr, pp, _ := brackets.ParentOf(finalized.Round, finalized.Position)
		if parent, ok := tree.Node(pr, pp); ok {
			if next, ok := tree.MatchForNode(parent.ID); ok {
				out.NextMatch = next
			} else {
				id := parent.ID
				out.NextNodeID = &id
			}
		}
	}
	return out
}

func validatePayload(payload json.RawMessage) error {
	if len(payload) > 0 && !json.Valid(payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrValidationFailed)
	}
	return nil
}
