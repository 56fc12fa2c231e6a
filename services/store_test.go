package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Dosada05/esports-tournament/models"
	"github.com/Dosada05/esports-tournament/repositories"
	"github.com/Dosada05/esports-tournament/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// memStore: хранилище в памяти за всеми четырьмя репозиториями. Отдаёт и принимает
// копии, чтобы дерево не могло изменить "БД" в обход persistChanges.
type memStore struct {
	mu sync.Mutex

	teams          map[int]models.Team
	tournaments    map[int]models.Tournament
	registrations  map[int][]int
	nodes          map[uuid.UUID]models.BracketNode
	matches        map[uuid.UUID]models.Match
	nextTeamID     int
	nextTournament int

	lockedKeys        [][]repositories.NodeKey
	finalizedListings int
	failMatchUpdate   error

	// teamsGate задерживает ListRegisteredTeams до закрытия канала или отмены ctx.
	teamsGate             chan struct{}
	teamsEntered          chan struct{}
	afterFinalizedListing func()
}

func newMemStore() *memStore {
	return &memStore{
		teams:         make(map[int]models.Team),
		tournaments:   make(map[int]models.Tournament),
		registrations: make(map[int][]int),
		nodes:         make(map[uuid.UUID]models.BracketNode),
		matches:       make(map[uuid.UUID]models.Match),
	}
}

type memTeams struct{ *memStore }
type memTournaments struct{ *memStore }
type memNodes struct{ *memStore }
type memMatches struct{ *memStore }

func (s memTeams) Create(_ context.Context, team *models.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.teams {
		if t.Name == team.Name {
			return repositories.ErrTeamNameConflict
		}
	}
	s.nextTeamID++
	team.ID = s.nextTeamID
	team.CreatedAt = fixedNow
	s.teams[team.ID] = *team
	return nil
}

func (s memTeams) GetByID(_ context.Context, id int) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, repositories.ErrTeamNotFound
	}
	return &t, nil
}

func (s memTeams) List(_ context.Context, _, _ int) ([]models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memTeams) ListByIDs(_ context.Context, _ repositories.SQLExecutor, ids []int) ([]models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Team{}
	for _, id := range ids {
		if t, ok := s.teams[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s memTournaments) Create(_ context.Context, t *models.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTournament++
	t.ID = s.nextTournament
	t.CreatedAt = fixedNow
	s.tournaments[t.ID] = *t
	return nil
}

func (s memTournaments) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	return &t, nil
}

func (s memTournaments) GetByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Tournament, error) {
	return s.GetByID(ctx, exec, id)
}

func (s memTournaments) List(_ context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Tournament{}
	for _, t := range s.tournaments {
		if filter.Status == nil || *filter.Status == t.Status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s memTournaments) UpdateBracketState(_ context.Context, _ repositories.SQLExecutor, t *models.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tournaments[t.ID]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	cur.Status = t.Status
	cur.BracketSize = t.BracketSize
	cur.Rounds = t.Rounds
	cur.ChampionTeamID = t.ChampionTeamID
	cur.BracketVersion++
	t.BracketVersion = cur.BracketVersion
	s.tournaments[t.ID] = cur
	return nil
}

func (s memTournaments) UpdateArchiveKey(_ context.Context, id int, key *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	cur.ArchiveKey = key
	s.tournaments[id] = cur
	return nil
}

func (s memTournaments) RegisterTeam(_ context.Context, _ repositories.SQLExecutor, tournamentID, teamID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[teamID]; !ok {
		return false, repositories.ErrTeamNotFound
	}
	for _, id := range s.registrations[tournamentID] {
		if id == teamID {
			return false, nil
		}
	}
	s.registrations[tournamentID] = append(s.registrations[tournamentID], teamID)
	return true, nil
}

func (s memTournaments) ListRegisteredTeams(ctx context.Context, _ repositories.SQLExecutor, tournamentID int) ([]models.Team, error) {
	if s.teamsGate != nil {
		select {
		case s.teamsEntered <- struct{}{}:
		default:
		}
		select {
		case <-s.teamsGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Team{}
	for _, id := range s.registrations[tournamentID] {
		out = append(out, s.teams[id])
	}
	return out, nil
}

func (s memNodes) BatchCreate(_ context.Context, _ repositories.SQLExecutor, nodes []*models.BracketNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		for _, existing := range s.nodes {
			if existing.TournamentID == n.TournamentID && existing.Round == n.Round && existing.Position == n.Position {
				return repositories.ErrBracketExists
			}
		}
		s.nodes[n.ID] = *n
	}
	return nil
}

func (s memNodes) GetByID(_ context.Context, _ repositories.SQLExecutor, id uuid.UUID) (*models.BracketNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, repositories.ErrBracketNodeNotFound
	}
	return &n, nil
}

func (s memNodes) ListByTournament(_ context.Context, _ repositories.SQLExecutor, tournamentID int) ([]*models.BracketNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.BracketNode{}
	for _, n := range s.nodes {
		if n.TournamentID == tournamentID {
			c := n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (s memNodes) LockNodes(_ context.Context, _ repositories.SQLExecutor, tournamentID int, keys []repositories.NodeKey) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockedKeys = append(s.lockedKeys, keys)
	ids := []uuid.UUID{}
	for _, k := range keys {
		for id, n := range s.nodes {
			if n.TournamentID == tournamentID && n.Round == k.Round && n.Position == k.Position {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) != len(keys) {
		return nil, repositories.ErrBracketNodeNotFound
	}
	return ids, nil
}

func (s memNodes) Update(_ context.Context, _ repositories.SQLExecutor, node *models.BracketNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[node.ID]; !ok {
		return repositories.ErrBracketNodeNotFound
	}
	s.nodes[node.ID] = *node
	return nil
}

func (s memMatches) BatchCreate(_ context.Context, _ repositories.SQLExecutor, matches []*models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range matches {
		for _, existing := range s.matches {
			if existing.NodeID == m.NodeID {
				return repositories.ErrMatchNodeConflict
			}
		}
		s.matches[m.ID] = *m
	}
	return nil
}

func (s memMatches) GetByIDForUpdate(_ context.Context, _ repositories.SQLExecutor, id uuid.UUID) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.ID == id || m.NodeID == id {
			c := m
			return &c, nil
		}
	}
	return nil, repositories.ErrMatchNotFound
}

func (s memMatches) ListByTournament(_ context.Context, _ repositories.SQLExecutor, tournamentID int, filter repositories.MatchFilter) ([]*models.Match, error) {
	finalized := filter.Status != nil && *filter.Status == models.MatchStatusFinalized
	if finalized && s.afterFinalizedListing != nil {
		defer s.afterFinalizedListing()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if finalized {
		s.finalizedListings++
	}
	out := []*models.Match{}
	for _, m := range s.matches {
		if m.TournamentID != tournamentID {
			continue
		}
		if filter.Round != nil && m.Round != *filter.Round {
			continue
		}
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		c := m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (s memMatches) Update(_ context.Context, _ repositories.SQLExecutor, m *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMatchUpdate != nil {
		return s.failMatchUpdate
	}
	cur, ok := s.matches[m.ID]
	if !ok || cur.Status == models.MatchStatusFinalized {
		return repositories.ErrMatchAlreadyFinalized
	}
	s.matches[m.ID] = *m
	return nil
}

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, key string, _ string, reader io.Reader) (*storage.UploadResult, error) {
	if u.err != nil {
		return nil, u.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = make(map[string][]byte)
	}
	u.objects[key] = buf.Bytes()
	return &storage.UploadResult{Key: key, Location: u.GetPublicURL(key)}, nil
}

func (u *fakeUploader) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

// env собирает все сервисы поверх memStore и sqlmock, который видит только границы транзакций.
type env struct {
	store       *memStore
	mock        sqlmock.Sqlmock
	uploader    *fakeUploader
	teams       TeamService
	tournaments TournamentService
	brackets    BracketService
	matches     MatchService
	leaderboard LeaderboardService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	store := newMemStore()
	teamRepo := memTeams{store}
	tournamentRepo := memTournaments{store}
	nodeRepo := memNodes{store}
	matchRepo := memMatches{store}
	uploader := &fakeUploader{}

	bs := NewBracketService(db, tournamentRepo, nodeRepo, matchRepo, nil).(*bracketService)
	bs.now = func() time.Time { return fixedNow }
	ms := NewMatchService(db, tournamentRepo, nodeRepo, matchRepo, NewBracketArchiver(uploader, tournamentRepo, nil), nil).(*matchService)
	ms.now = func() time.Time { return fixedNow }

	return &env{
		store:       store,
		mock:        mock,
		uploader:    uploader,
		teams:       NewTeamService(teamRepo),
		tournaments: NewTournamentService(db, tournamentRepo, teamRepo, uploader, nil),
		brackets:    bs,
		matches:     ms,
		leaderboard: NewLeaderboardService(tournamentRepo, matchRepo, nil),
	}
}

func (e *env) expectCommit() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}

func (e *env) expectRollback() {
	e.mock.ExpectBegin()
	e.mock.ExpectRollback()
}

// seedTournament создаёт n команд T1..Tn, турнир и регистрирует их по порядку.
func (e *env) seedTournament(t *testing.T, n int) (*models.Tournament, []int) {
	t.Helper()
	ctx := context.Background()
	ids := make([]int, n)
	for i := range ids {
		team, err := e.teams.CreateTeam(ctx, CreateTeamInput{Name: fmt.Sprintf("T%d", i+1)})
		require.NoError(t, err)
		ids[i] = team.ID
	}
	tournament, err := e.tournaments.CreateTournament(ctx, CreateTournamentInput{Name: "Major"})
	require.NoError(t, err)

	if n > 0 {
		e.expectCommit()
		_, err = e.tournaments.RegisterTeams(ctx, tournament.ID, ids)
		require.NoError(t, err)
	}
	return tournament, ids
}

func (e *env) matchAt(t *testing.T, tournamentID, round, position int) *models.Match {
	t.Helper()
	matches, err := memMatches{e.store}.ListByTournament(context.Background(), nil, tournamentID, repositories.MatchFilter{Round: &round})
	require.NoError(t, err)
	for _, m := range matches {
		if m.Position == position {
			return m
		}
	}
	t.Fatalf("no match at round %d position %d", round, position)
	return nil
}

func (e *env) nodeAt(t *testing.T, tournamentID, round, position int) *models.BracketNode {
	t.Helper()
	nodes, err := memNodes{e.store}.ListByTournament(context.Background(), nil, tournamentID)
	require.NoError(t, err)
	for _, n := range nodes {
		if n.Round == round && n.Position == position {
			return n
		}
	}
	t.Fatalf("no node at round %d position %d", round, position)
	return nil
}
