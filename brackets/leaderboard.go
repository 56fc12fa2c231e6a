package brackets

import (
	"sort"

	"github.com/Dosada05/esports-tournament/models"
)

type LeaderboardInput struct {
	Status         models.TournamentStatus
	ChampionTeamID *int
	Rounds         int
	// Teams in registration order.
	Teams   []models.Team
	Matches []*models.Match
}

// ComputeLeaderboard derives standings from finalized matches only. Byes award no
// win. Teams still alive rank above every eliminated team; later elimination ranks
// better; ties keep registration order. Ranks are assigned once the tournament is
// completed, teams knocked out in the same round share a rank.
func ComputeLeaderboard(in LeaderboardInput) []models.LeaderboardEntry {
	if in.Status == "" || in.Status == models.StatusCreated {
		return []models.LeaderboardEntry{}
	}

	entries := make([]models.LeaderboardEntry, len(in.Teams))
	index := make(map[int]int, len(in.Teams))
	for i, team := range in.Teams {
		entries[i] = models.LeaderboardEntry{
			TeamID:   team.ID,
			TeamName: team.Name,
			Seed:     i + 1,
		}
		index[team.ID] = i
	}

	for _, m := range in.Matches {
		if m.Status != models.MatchStatusFinalized || m.IsBye || m.WinnerTeamID == nil {
			continue
		}
		loser, ok := m.LoserTeamID()
		if !ok {
			continue
		}
		if i, ok := index[*m.WinnerTeamID]; ok {
			entries[i].Wins++
		}
		if i, ok := index[loser]; ok {
			entries[i].Losses++
			round := m.Round
			entries[i].EliminatedRound = &round
		}
	}

	completed := in.Status == models.StatusCompleted
	if completed && in.ChampionTeamID != nil {
		if i, ok := index[*in.ChampionTeamID]; ok {
			entries[i].IsChampion = true
		}
	}

	alive := in.Rounds + 1
	standing := func(e models.LeaderboardEntry) int {
		if e.EliminatedRound == nil {
			return alive
		}
		return *e.EliminatedRound
	}

	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := standing(entries[i]), standing(entries[j])
		if si != sj {
			return si > sj
		}
		return entries[i].Seed < entries[j].Seed
	})

	if completed {
		for i := range entries {
			rank := 1
			for j := 0; j < i; j++ {
				if standing(entries[j]) > standing(entries[i]) {
					rank++
				}
			}
			entries[i].Rank = &rank
		}
	}
	return entries
}

// LeaderboardFromTree is a convenience wrapper for an in-memory tree.
func LeaderboardFromTree(t *Tree, teams []models.Team) []models.LeaderboardEntry {
	return ComputeLeaderboard(LeaderboardInput{
		Status:         t.Status,
		ChampionTeamID: t.ChampionTeamID,
		Rounds:         t.Rounds,
		Teams:          teams,
		Matches:        t.Matches(),
	})
}
