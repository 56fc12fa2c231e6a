package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/esports-tournament/brackets"
	"github.com/Dosada05/esports-tournament/models"
	"github.com/Dosada05/esports-tournament/repositories"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type BracketService interface {
	GenerateBracket(ctx context.Context, tournamentID int) (*GenerateBracketResult, error)
	GetBracket(ctx context.Context, tournamentID int) (*BracketView, error)
}

type BracketSummary struct {
	TeamCount       int `json:"team_count"`
	BracketSize     int `json:"bracket_size"`
	Rounds          int `json:"rounds"`
	FirstRoundSlots int `json:"first_round_slots"`
	MatchesCreated  int `json:"matches_created"`
	ByesAdvanced    int `json:"byes_advanced"`
}

type GenerateBracketResult struct {
	Summary BracketSummary `json:"summary"`
	Bracket *BracketView   `json:"bracket"`
}

// BracketView содержит сетку целиком: турнир, раунды, узлы и их матчи.
type BracketView struct {
	Tournament models.Tournament `json:"tournament"`
	Rounds     []RoundView       `json:"rounds"`
}

type RoundView struct {
	Round int        `json:"round"`
	Nodes []NodeView `json:"nodes"`
}

type NodeView struct {
	models.BracketNode
	Match *models.Match `json:"match,omitempty"`
	// NextNodeID пуст у финала.
	NextNodeID *uuid.UUID `json:"next_node_id,omitempty"`
}

type bracketService struct {
	db             *sql.DB
	tournamentRepo repositories.TournamentRepository
	nodeRepo       repositories.BracketNodeRepository
	matchRepo      repositories.MatchRepository
	generator      brackets.BracketGenerator
	logger         *slog.Logger
	now            func() time.Time
}

func NewBracketService(
	db *sql.DB,
	tournamentRepo repositories.TournamentRepository,
	nodeRepo repositories.BracketNodeRepository,
	matchRepo repositories.MatchRepository,
	logger *slog.Logger,
) BracketService {
	return &bracketService{
		db:             db,
		tournamentRepo: tournamentRepo,
		nodeRepo:       nodeRepo,
		matchRepo:      matchRepo,
		generator:      brackets.NewSingleEliminationGenerator(),
		logger:         defaultLogger(logger),
		now:            utcNow,
	}
}

func (s *bracketService) GenerateBracket(ctx context.Context, tournamentID int) (*GenerateBracketResult, error) {
	var (
		tree       *brackets.Tree
		tournament *models.Tournament
		teams      []models.Team
	)

	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		var err error
		tournament, err = s.tournamentRepo.GetByIDForUpdate(ctx, tx, tournamentID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if tournament.Status != models.StatusCreated {
			return fmt.Errorf("%w (status: %s)", ErrAlreadyGenerated, tournament.Status)
		}

		teams, err = s.tournamentRepo.ListRegisteredTeams(ctx, tx, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to load registered teams: %w", err)
		}

		tree, err = s.generator.GenerateBracket(ctx, brackets.GenerateBracketParams{
			Tournament: tournament,
			Teams:      teams,
			Now:        s.now(),
		})
		if err != nil {
			return fmt.Errorf("failed to generate %s bracket for tournament %d: %w", s.generator.GetName(), tournamentID, err)
		}

		summary := summarize(tree, len(teams))
		version, err := persistChanges(ctx, tx, tree, s.tournamentRepo, s.nodeRepo, s.matchRepo)
		if err != nil {
			return err
		}
		tournament.BracketVersion = version
		s.logger.InfoContext(ctx, "Bracket generated",
			slog.Int("tournament_id", tournamentID),
			slog.Int("teams", summary.TeamCount),
			slog.Int("bracket_size", summary.BracketSize),
			slog.Int("byes", summary.ByesAdvanced),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	applyTreeState(tournament, tree)
	tournament.Teams = teams
	return &GenerateBracketResult{
		Summary: summarize(tree, len(teams)),
		Bracket: buildBracketView(tournament, tree),
	}, nil
}

func (s *bracketService) GetBracket(ctx context.Context, tournamentID int) (*BracketView, error) {
	var (
		tournament *models.Tournament
		teams      []models.Team
		nodes      []*models.BracketNode
		matches    []*models.Match
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tournament, err = s.tournamentRepo.GetByID(gCtx, nil, tournamentID)
		if err != nil {
			return mapRepositoryError(err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		teams, err = s.tournamentRepo.ListRegisteredTeams(gCtx, nil, tournamentID)
		return err
	})
	g.Go(func() error {
		var err error
		nodes, err = s.nodeRepo.ListByTournament(gCtx, nil, tournamentID)
		return err
	})
	g.Go(func() error {
		var err error
		matches, err = s.matchRepo.ListByTournament(gCtx, nil, tournamentID, repositories.MatchFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load bracket of tournament %d: %w", tournamentID, err)
	}

	tournament.Teams = teams
	if tournament.Status == models.StatusCreated {
		return &BracketView{Tournament: *tournament, Rounds: []RoundView{}}, nil
	}

	tree, err := brackets.LoadTree(tournament, nodes, matches)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stored bracket is inconsistent", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return nil, err
	}
	return buildBracketView(tournament, tree), nil
}

func summarize(tree *brackets.Tree, teamCount int) BracketSummary {
	summary := BracketSummary{
		TeamCount:       teamCount,
		BracketSize:     tree.Size,
		Rounds:          tree.Rounds,
		FirstRoundSlots: tree.Size,
		ByesAdvanced:    tree.ByeCount(),
	}
	// Матчи первого раунда вместе с bye.
	for _, m := range tree.Matches() {
		if m.Round == 1 {
			summary.MatchesCreated++
		}
	}
	return summary
}

func applyTreeState(tournament *models.Tournament, tree *brackets.Tree) {
	state := tree.State()
	tournament.Status = state.Status
	tournament.BracketSize = state.BracketSize
	tournament.Rounds = state.Rounds
	tournament.ChampionTeamID = state.ChampionTeamID
}

func buildBracketView(tournament *models.Tournament, tree *brackets.Tree) *BracketView {
	view := &BracketView{Tournament: *tournament, Rounds: make([]RoundView, 0, tree.Rounds)}
	for r := 1; r <= tree.Rounds; r++ {
		round := RoundView{Round: r, Nodes: []NodeView{}}
		for _, node := range tree.RoundNodes(r) {
			nv := NodeView{BracketNode: *node}
			if m, ok := tree.MatchForNode(node.ID); ok {
				nv.Match = m
			}
			if r < tree.Rounds {
				pr, pp, _ := brackets.ParentOf(node.Round, node.Position)
				if parent, ok := tree.Node(pr, pp); ok {
					id := parent.ID
					nv.NextNodeID = &id
				}
			}
			round.Nodes = append(round.Nodes, nv)
		}
		view.Rounds = append(view.Rounds, round)
	}
	return view
}
