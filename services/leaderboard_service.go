package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Dosada05/esports-tournament/brackets"
	"github.com/Dosada05/esports-tournament/models"
	"github.com/Dosada05/esports-tournament/repositories"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	leaderboardComputeTimeout = 10 * time.Second
	leaderboardSnapshotTries  = 3
	maxCachedLeaderboards     = 256
)

type LeaderboardService interface {
	GetLeaderboard(ctx context.Context, tournamentID int) ([]models.LeaderboardEntry, error)
}

type cachedLeaderboard struct {
	version  int
	entries  []models.LeaderboardEntry
	storedAt time.Time
}

// leaderboardService пересчитывает таблицу только при смене bracket_version:
// каждая запись в сетку увеличивает версию, так что кэш не устаревает.
type leaderboardService struct {
	tournamentRepo repositories.TournamentRepository
	matchRepo      repositories.MatchRepository
	logger         *slog.Logger

	group      singleflight.Group
	mu         sync.RWMutex
	cache      map[int]cachedLeaderboard
	maxEntries int
	now        func() time.Time
}

func NewLeaderboardService(
	tournamentRepo repositories.TournamentRepository,
	matchRepo repositories.MatchRepository,
	logger *slog.Logger,
) LeaderboardService {
	return &leaderboardService{
		tournamentRepo: tournamentRepo,
		matchRepo:      matchRepo,
		logger:         defaultLogger(logger),
		cache:          make(map[int]cachedLeaderboard),
		maxEntries:     maxCachedLeaderboards,
		now:            time.Now,
	}
}

func (s *leaderboardService) GetLeaderboard(ctx context.Context, tournamentID int) ([]models.LeaderboardEntry, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament %d: %w", tournamentID, mapRepositoryError(err))
	}
	if tournament.Status == models.StatusCreated {
		return []models.LeaderboardEntry{}, nil
	}

	if entries, ok := s.cached(tournamentID, tournament.BracketVersion); ok {
		return entries, nil
	}

	// Расчёт общий для всех ждущих запросов, поэтому он не привязан к отмене
	// контекста того, кто пришёл первым. Каждый вызывающий ждёт в пределах своего ctx.
	key := strconv.Itoa(tournamentID) + "@" + strconv.Itoa(tournament.BracketVersion)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaderboardComputeTimeout)
		defer cancel()
		return s.compute(computeCtx, tournament)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyEntries(res.Val.([]models.LeaderboardEntry)), nil
	}
}

// compute читает команды и завершённые матчи, затем перечитывает строку турнира.
// Если bracket_version за это время сменилась, снимок мог захватить половину
// записи, и чтение повторяется уже от новой строки.
func (s *leaderboardService) compute(ctx context.Context, tournament *models.Tournament) ([]models.LeaderboardEntry, error) {
	for attempt := 1; ; attempt++ {
		teams, matches, err := s.loadInput(ctx, tournament.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load leaderboard input for tournament %d: %w", tournament.ID, err)
		}

		current, err := s.tournamentRepo.GetByID(ctx, nil, tournament.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to recheck tournament %d: %w", tournament.ID, mapRepositoryError(err))
		}
		if current.BracketVersion != tournament.BracketVersion {
			s.logger.DebugContext(ctx, "Bracket changed while computing leaderboard, retrying",
				slog.Int("tournament_id", tournament.ID),
				slog.Int("read_version", tournament.BracketVersion),
				slog.Int("current_version", current.BracketVersion),
				slog.Int("attempt", attempt),
			)
			tournament = current
			if attempt < leaderboardSnapshotTries {
				continue
			}
			return nil, fmt.Errorf("tournament %d bracket kept changing while computing leaderboard", tournament.ID)
		}

		entries := brackets.ComputeLeaderboard(brackets.LeaderboardInput{
			Status:         tournament.Status,
			ChampionTeamID: tournament.ChampionTeamID,
			Rounds:         tournament.Rounds,
			Teams:          teams,
			Matches:        matches,
		})
		s.store(tournament.ID, tournament.BracketVersion, entries)

		s.logger.DebugContext(ctx, "Leaderboard computed",
			slog.Int("tournament_id", tournament.ID),
			slog.Int("bracket_version", tournament.BracketVersion),
		)
		return entries, nil
	}
}

func (s *leaderboardService) loadInput(ctx context.Context, tournamentID int) ([]models.Team, []*models.Match, error) {
	var (
		teams   []models.Team
		matches []*models.Match
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		teams, err = s.tournamentRepo.ListRegisteredTeams(gCtx, nil, tournamentID)
		return err
	})
	g.Go(func() error {
		var err error
		status := models.MatchStatusFinalized
		matches, err = s.matchRepo.ListByTournament(gCtx, nil, tournamentID, repositories.MatchFilter{Status: &status})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return teams, matches, nil
}

func (s *leaderboardService) store(tournamentID, version int, entries []models.LeaderboardEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Конкурентный запрос мог уже положить более новую версию.
	if cur, ok := s.cache[tournamentID]; ok && cur.version >= version {
		return
	}
	if _, ok := s.cache[tournamentID]; !ok && len(s.cache) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.cache[tournamentID] = cachedLeaderboard{version: version, entries: entries, storedAt: s.now()}
}

func (s *leaderboardService) evictOldestLocked() {
	oldestID, found := 0, false
	var oldest time.Time
	for id, entry := range s.cache {
		if !found || entry.storedAt.Before(oldest) {
			oldestID, oldest, found = id, entry.storedAt, true
		}
	}
	if found {
		delete(s.cache, oldestID)
	}
}

func (s *leaderboardService) cached(tournamentID, version int) ([]models.LeaderboardEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.cache[tournamentID]
	if !ok || cur.version != version {
		return nil, false
	}
	return copyEntries(cur.entries), true
}

func copyEntries(in []models.LeaderboardEntry) []models.LeaderboardEntry {
	out := make([]models.LeaderboardEntry, len(in))
	copy(out, in)
	return out
}
