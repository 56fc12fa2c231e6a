package brackets

import (
	"context"
	"fmt"
	"time"

	"github.com/Dosada05/esports-tournament/models"
)

type SingleEliminationGenerator struct {
}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// GenerateBracket builds every node of every round, fills round 1 in registration
// order and resolves the byes. Byes take slot B of the trailing round-1 nodes, one
// per node, so a node never meets two byes. The returned tree already reflects the
// bye advancement.
func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params.Tournament == nil {
		return nil, fmt.Errorf("%w: tournament is required", ErrCorruptTree)
	}

	teams := params.Teams
	n := len(teams)
	if n < 2 {
		return nil, fmt.Errorf("%w: found %d", ErrInsufficientTeams, n)
	}
	seen := make(map[int]bool, n)
	for _, team := range teams {
		if seen[team.ID] {
			return nil, fmt.Errorf("%w: team %d", ErrDuplicateTeam, team.ID)
		}
		seen[team.ID] = true
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	size := NextPowerOfTwo(n)
	numByes := size - n
	tree := newTree(params.Tournament.ID, size)

	for r := 1; r <= tree.Rounds; r++ {
		for p := 0; p < size>>r; p++ {
			node := &models.BracketNode{
				ID:           newID(),
				TournamentID: tree.TournamentID,
				Round:        r,
				Position:     p,
				SlotA:        models.UnresolvedSlot(),
				SlotB:        models.UnresolvedSlot(),
			}
			tree.addNode(node)
			tree.changes.nodeCreated(node)
		}
	}

	firstRound := tree.RoundNodes(1)
	fullNodes := len(firstRound) - numByes
	next := 0
	for p, node := range firstRound {
		node.SlotA = models.TeamSlot(teams[next].ID)
		next++
		if p < fullNodes {
			node.SlotB = models.TeamSlot(teams[next].ID)
			next++
		} else {
			node.SlotB = models.ByeSlot()
		}
	}

	tree.Status = models.StatusBracketGenerated
	tree.changes.TournamentChanged = true

	for _, node := range firstRound {
		m, err := tree.createMatch(node, now)
		if err != nil {
			return nil, err
		}
		if !m.IsBye {
			continue
		}
		tree.finalizeBye(m, now)
		if _, err := tree.Advance(m); err != nil {
			return nil, fmt.Errorf("failed to advance bye of team %d: %w", m.TeamAID, err)
		}
	}

	return tree, nil
}
