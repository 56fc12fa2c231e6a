package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/esports-tournament/models"
	"github.com/Dosada05/esports-tournament/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamService_CreateTeam(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	members := "  s1mple, b1t  "
	team, err := e.teams.CreateTeam(ctx, CreateTeamInput{Name: "  NAVI ", Members: &members})
	require.NoError(t, err)
	assert.Equal(t, "NAVI", team.Name)
	assert.Equal(t, "s1mple, b1t", *team.Members)

	_, err = e.teams.CreateTeam(ctx, CreateTeamInput{Name: "NAVI"})
	assert.ErrorIs(t, err, ErrTeamNameConflict)

	_, err = e.teams.CreateTeam(ctx, CreateTeamInput{Name: "   "})
	assert.ErrorIs(t, err, ErrTeamNameRequired)

	_, err = e.teams.CreateTeam(ctx, CreateTeamInput{Name: strings.Repeat("x", maxTeamNameLength+1)})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = e.teams.GetTeamByID(ctx, 404)
	assert.ErrorIs(t, err, ErrTeamNotFound)
}

func TestTournamentService_RegisterTeams(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, ids := e.seedTournament(t, 3)

	e.expectCommit()
	result, err := e.tournaments.RegisterTeams(ctx, tournament.ID, []int{ids[2], ids[0], ids[2]})
	require.NoError(t, err)
	assert.Empty(t, result.Registered)
	assert.Equal(t, []int{ids[2], ids[0]}, result.Skipped)

	e.expectRollback()
	_, err = e.tournaments.RegisterTeams(ctx, tournament.ID, []int{ids[0], 999})
	assert.ErrorIs(t, err, ErrTeamNotFound)

	_, err = e.tournaments.RegisterTeams(ctx, tournament.ID, nil)
	assert.ErrorIs(t, err, ErrNoTeamsProvided)

	e.expectRollback()
	_, err = e.tournaments.RegisterTeams(ctx, 999, ids)
	assert.ErrorIs(t, err, ErrTournamentNotFound)

	got, err := e.tournaments.GetTournamentByID(ctx, tournament.ID)
	require.NoError(t, err)
	require.Len(t, got.Teams, 3)
	assert.Equal(t, "T1", got.Teams[0].Name, "registration order is the seed order")
}

func TestTournamentService_RegistrationClosedAfterGeneration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, _ := e.seedTournament(t, 2)
	late, err := e.teams.CreateTeam(ctx, CreateTeamInput{Name: "Late"})
	require.NoError(t, err)

	e.expectCommit()
	_, err = e.brackets.GenerateBracket(ctx, tournament.ID)
	require.NoError(t, err)

	e.expectRollback()
	_, err = e.tournaments.RegisterTeams(ctx, tournament.ID, []int{late.ID})
	assert.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestTournamentService_ListTournaments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedTournament(t, 0)

	bad := models.TournamentStatus("paused")
	_, err := e.tournaments.ListTournaments(ctx, ListTournamentsInput{Status: &bad})
	assert.ErrorIs(t, err, ErrValidationFailed)

	created := models.StatusCreated
	list, err := e.tournaments.ListTournaments(ctx, ListTournamentsInput{Status: &created})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBracketService_GenerateFiveTeams(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, _ := e.seedTournament(t, 5)

	e.expectCommit()
	result, err := e.brackets.GenerateBracket(ctx, tournament.ID)
	require.NoError(t, err)

	assert.Equal(t, BracketSummary{
		TeamCount:       5,
		BracketSize:     8,
		Rounds:          3,
		FirstRoundSlots: 8,
		MatchesCreated:  4,
		ByesAdvanced:    3,
	}, result.Summary)
	assert.Equal(t, models.StatusBracketGenerated, result.Bracket.Tournament.Status)
	assert.Equal(t, 1, result.Bracket.Tournament.BracketVersion)
	require.Len(t, result.Bracket.Rounds, 3)
	assert.Len(t, result.Bracket.Rounds[0].Nodes, 4)
	assert.Nil(t, result.Bracket.Rounds[2].Nodes[0].NextNodeID, "the final feeds nothing")

	assert.Len(t, e.store.nodes, 7)
	assert.Len(t, e.store.matches, 5)
	stored := e.store.tournaments[tournament.ID]
	assert.Equal(t, 8, stored.BracketSize)
	assert.Equal(t, 3, stored.Rounds)

	view, err := e.brackets.GetBracket(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Bracket.Rounds, view.Rounds)
	assert.Len(t, view.Tournament.Teams, 5)

	e.expectRollback()
	_, err = e.brackets.GenerateBracket(ctx, tournament.ID)
	assert.ErrorIs(t, err, ErrAlreadyGenerated)
}

func TestBracketService_InsufficientTeams(t *testing.T) {
	e := newEnv(t)
	tournament, _ := e.seedTournament(t, 1)

	e.expectRollback()
	_, err := e.brackets.GenerateBracket(context.Background(), tournament.ID)
	assert.ErrorIs(t, err, ErrInsufficientTeams)
	assert.Empty(t, e.store.nodes)
	assert.Equal(t, models.StatusCreated, e.store.tournaments[tournament.ID].Status)
}

func TestBracketService_GetBracketBeforeGeneration(t *testing.T) {
	e := newEnv(t)
	tournament, _ := e.seedTournament(t, 3)

	view, err := e.brackets.GetBracket(context.Background(), tournament.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Rounds)
	assert.Len(t, view.Tournament.Teams, 3)

	_, err = e.brackets.GetBracket(context.Background(), 999)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestMatchService_FourTeamTournament(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, ids := e.seedTournament(t, 4)
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]

	e.expectCommit()
	_, err := e.brackets.GenerateBracket(ctx, tournament.ID)
	require.NoError(t, err)

	ab := e.matchAt(t, tournament.ID, 1, 0)
	e.expectCommit()
	out, err := e.matches.SubmitResult(ctx, ab.ID, SubmitResultInput{WinnerTeamID: a})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, out.TournamentStatus)
	assert.Nil(t, out.NextMatch)
	require.NotNil(t, out.NextNodeID)
	assert.Equal(t, e.nodeAt(t, tournament.ID, 2, 0).ID, *out.NextNodeID)
	assert.Equal(t, []repositories.NodeKey{{Round: 1, Position: 0}, {Round: 2, Position: 0}}, e.store.lockedKeys[len(e.store.lockedKeys)-1])

	cd := e.matchAt(t, tournament.ID, 1, 1)
	e.expectCommit()
	out, err = e.matches.SubmitResult(ctx, cd.ID, SubmitResultInput{WinnerTeamID: c, Payload: json.RawMessage(`{"score":"2-1"}`)})
	require.NoError(t, err)
	require.Len(t, out.CreatedMatches, 1)
	require.NotNil(t, out.NextMatch)
	assert.Equal(t, a, out.NextMatch.TeamAID)
	assert.Equal(t, c, *out.NextMatch.TeamBID)
	assert.JSONEq(t, `{"score":"2-1"}`, string(e.store.matches[cd.ID].Payload))

	final := e.matchAt(t, tournament.ID, 2, 0)
	e.expectCommit()
	reported, err := e.matches.ReportResult(ctx, final.ID, SubmitResultInput{WinnerTeamID: a})
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusReported, reported.Status)

	e.expectCommit()
	out, err = e.matches.ConfirmResult(ctx, final.ID)
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, models.StatusCompleted, out.TournamentStatus)
	assert.Equal(t, a, *out.ChampionTeamID)
	assert.Equal(t, []repositories.NodeKey{{Round: 2, Position: 0}}, e.store.lockedKeys[len(e.store.lockedKeys)-1])

	// generate, two submissions, report, confirm
	require.NotNil(t, out.ArchiveKey)
	assert.Equal(t, "brackets/tournament-1/v5.json", *out.ArchiveKey)
	assert.Contains(t, e.uploader.objects, *out.ArchiveKey)
	assert.Equal(t, *out.ArchiveKey, *e.store.tournaments[tournament.ID].ArchiveKey)

	board, err := e.leaderboard.GetLeaderboard(ctx, tournament.ID)
	require.NoError(t, err)
	require.Len(t, board, 4)
	assert.Equal(t, []int{a, c, b, d}, []int{board[0].TeamID, board[1].TeamID, board[2].TeamID, board[3].TeamID})
	assert.Equal(t, []int{1, 2, 3, 3}, []int{*board[0].Rank, *board[1].Rank, *board[2].Rank, *board[3].Rank})
	assert.True(t, board[0].IsChampion)

	got, err := e.tournaments.GetTournamentByID(ctx, tournament.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArchiveURL)
	assert.Equal(t, "https://cdn.test/brackets/tournament-1/v5.json", *got.ArchiveURL)

	e.expectRollback()
	_, err = e.matches.SubmitResult(ctx, final.ID, SubmitResultInput{WinnerTeamID: c})
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	assert.Equal(t, a, *e.store.matches[final.ID].WinnerTeamID)
}

func TestMatchService_SubmitErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, ids := e.seedTournament(t, 4)
	e.expectCommit()
	_, err := e.brackets.GenerateBracket(ctx, tournament.ID)
	require.NoError(t, err)
	ab := e.matchAt(t, tournament.ID, 1, 0)

	_, err = e.matches.SubmitResult(ctx, ab.ID, SubmitResultInput{})
	assert.ErrorIs(t, err, ErrValidationFailed)
	_, err = e.matches.SubmitResult(ctx, ab.ID, SubmitResultInput{WinnerTeamID: ids[0], Payload: json.RawMessage(`{oops`)})
	assert.ErrorIs(t, err, ErrValidationFailed)

	e.expectRollback()
	_, err = e.matches.SubmitResult(ctx, ab.ID, SubmitResultInput{WinnerTeamID: ids[2]})
	assert.ErrorIs(t, err, ErrInvalidWinner)

	e.expectRollback()
	_, err = e.matches.SubmitResult(ctx, uuid.New(), SubmitResultInput{WinnerTeamID: ids[0]})
	assert.ErrorIs(t, err, ErrMatchNotFound)

	e.expectRollback()
	_, err = e.matches.SubmitResult(ctx, e.nodeAt(t, tournament.ID, 2, 0).ID, SubmitResultInput{WinnerTeamID: ids[0]})
	assert.ErrorIs(t, err, ErrMatchNotReady)

	e.expectRollback()
	_, err = e.matches.ConfirmResult(ctx, ab.ID)
	assert.ErrorIs(t, err, ErrMatchNotReported)

	assert.Equal(t, models.MatchStatusPending, e.store.matches[ab.ID].Status)
	assert.Equal(t, 1, e.store.tournaments[tournament.ID].BracketVersion, "failed calls never bump the version")
}

func TestMatchService_ConcurrentFinalizeLoses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, ids := e.seedTournament(t, 2)
	e.expectCommit()
	_, err := e.brackets.GenerateBracket(ctx, tournament.ID)
	require.NoError(t, err)

	// Другая транзакция успела финализировать матч между чтением и записью.
	e.store.failMatchUpdate = repositories.ErrMatchAlreadyFinalized
	e.expectRollback()
	_, err = e.matches.SubmitResult(ctx, e.matchAt(t, tournament.ID, 1, 0).ID, SubmitResultInput{WinnerTeamID: ids[0]})
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestMatchService_ArchiveFailureDoesNotFailSubmission(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, ids := e.seedTournament(t, 2)
	e.expectCommit()
	_, err := e.brackets.GenerateBracket(ctx, tournament.ID)
	require.NoError(t, err)

	e.uploader.err = errors.New("bucket unavailable")
	e.expectCommit()
	out, err := e.matches.SubmitResult(ctx, e.matchAt(t, tournament.ID, 1, 0).ID, SubmitResultInput{WinnerTeamID: ids[1]})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Nil(t, out.ArchiveKey)
	assert.Nil(t, e.store.tournaments[tournament.ID].ArchiveKey)
}

func TestMatchService_ListMatches(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, _ := e.seedTournament(t, 5)
	e.expectCommit()
	_, err := e.brackets.GenerateBracket(ctx, tournament.ID)
	require.NoError(t, err)

	round := 1
	matches, err := e.matches.ListMatches(ctx, tournament.ID, MatchFilter{Round: &round})
	require.NoError(t, err)
	assert.Len(t, matches, 4)

	pending := models.MatchStatusPending
	matches, err = e.matches.ListMatches(ctx, tournament.ID, MatchFilter{Status: &pending})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	zero := 0
	_, err = e.matches.ListMatches(ctx, tournament.ID, MatchFilter{Round: &zero})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = e.matches.ListMatches(ctx, 999, MatchFilter{})
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestLeaderboardService_CachesByVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, ids := e.seedTournament(t, 4)

	board, err := e.leaderboard.GetLeaderboard(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Empty(t, board, "no bracket, no standings")

	e.expectCommit()
	_, err = e.brackets.GenerateBracket(ctx, tournament.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		board, err = e.leaderboard.GetLeaderboard(ctx, tournament.ID)
		require.NoError(t, err)
		assert.Len(t, board, 4)
	}
	assert.Equal(t, 1, e.store.finalizedListings)

	board[0].Wins = 100
	again, err := e.leaderboard.GetLeaderboard(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Zero(t, again[0].Wins, "callers get their own copy")

	e.expectCommit()
	_, err = e.matches.SubmitResult(ctx, e.matchAt(t, tournament.ID, 1, 1).ID, SubmitResultInput{WinnerTeamID: ids[3]})
	require.NoError(t, err)

	board, err = e.leaderboard.GetLeaderboard(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, e.store.finalizedListings)
	wins := 0
	for _, entry := range board {
		wins += entry.Wins
	}
	assert.Equal(t, 1, wins)

	_, err = e.leaderboard.GetLeaderboard(ctx, 999)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestLeaderboardService_FirstCallerCancelDoesNotFailOthers(t *testing.T) {
	e := newEnv(t)
	tournament, _ := e.seedTournament(t, 4)
	e.expectCommit()
	_, err := e.brackets.GenerateBracket(context.Background(), tournament.ID)
	require.NoError(t, err)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	e.store.teamsGate, e.store.teamsEntered = gate, entered

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.leaderboard.GetLeaderboard(firstCtx, tournament.ID)
		firstErr <- err
	}()
	<-entered
	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		board []models.LeaderboardEntry
		err   error
	}
	second := make(chan result, 1)
	go func() {
		board, err := e.leaderboard.GetLeaderboard(context.Background(), tournament.ID)
		second <- result{board, err}
	}()
	close(gate)

	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.board, 4)
	assert.Equal(t, 1, e.store.finalizedListings, "the computation started by the first caller is reused")
}

func TestLeaderboardService_RereadsWhenBracketMovesDuringLoad(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tournament, ids := e.seedTournament(t, 2)
	e.expectCommit()
	_, err := e.brackets.GenerateBracket(ctx, tournament.ID)
	require.NoError(t, err)
	final := e.matchAt(t, tournament.ID, 1, 0)

	// Финал завершается между чтением матчей и повторным чтением турнира.
	var once sync.Once
	e.store.afterFinalizedListing = func() {
		once.Do(func() {
			e.expectCommit()
			_, err := e.matches.SubmitResult(ctx, final.ID, SubmitResultInput{WinnerTeamID: ids[1]})
			assert.NoError(t, err)
		})
	}

	board, err := e.leaderboard.GetLeaderboard(ctx, tournament.ID)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, ids[1], board[0].TeamID)
	assert.True(t, board[0].IsChampion)
	require.NotNil(t, board[0].Rank)
	assert.Equal(t, 1, *board[0].Rank)
	assert.Equal(t, 1, board[0].Wins)
	assert.Equal(t, 2, e.store.finalizedListings)

	ls := e.leaderboard.(*leaderboardService)
	assert.Equal(t, e.store.tournaments[tournament.ID].BracketVersion, ls.cache[tournament.ID].version)
}

func TestLeaderboardService_CacheIsBounded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ls := e.leaderboard.(*leaderboardService)
	ls.maxEntries = 2
	tick := fixedNow
	ls.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	var tournamentIDs []int
	for i := 0; i < 3; i++ {
		var teamIDs []int
		for j := 0; j < 2; j++ {
			team, err := e.teams.CreateTeam(ctx, CreateTeamInput{Name: fmt.Sprintf("Cup%d-%d", i, j)})
			require.NoError(t, err)
			teamIDs = append(teamIDs, team.ID)
		}
		tournament, err := e.tournaments.CreateTournament(ctx, CreateTournamentInput{Name: fmt.Sprintf("Cup %d", i)})
		require.NoError(t, err)
		e.expectCommit()
		_, err = e.tournaments.RegisterTeams(ctx, tournament.ID, teamIDs)
		require.NoError(t, err)
		e.expectCommit()
		_, err = e.brackets.GenerateBracket(ctx, tournament.ID)
		require.NoError(t, err)

		_, err = e.leaderboard.GetLeaderboard(ctx, tournament.ID)
		require.NoError(t, err)
		tournamentIDs = append(tournamentIDs, tournament.ID)
	}

	assert.Len(t, ls.cache, 2)
	assert.NotContains(t, ls.cache, tournamentIDs[0], "the oldest entry is evicted")

	board, err := e.leaderboard.GetLeaderboard(ctx, tournamentIDs[0])
	require.NoError(t, err)
	assert.Len(t, board, 2)
	assert.Len(t, ls.cache, 2)
}
