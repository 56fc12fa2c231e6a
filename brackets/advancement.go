package brackets

import (
	"fmt"
	"time"

	"github.com/Dosada05/esports-tournament/models"
)

// Advance pushes the winner of a finalized match into its parent slot and resolves
// whatever that exposes. It returns the matches it created or finalized, in order.
// Every step moves one round up, so the worklist drains in at most Rounds steps per
// chain.
func (t *Tree) Advance(finalized *models.Match) ([]*models.Match, error) {
	if finalized == nil {
		return nil, fmt.Errorf("%w: nil match", ErrMatchNotFinalized)
	}
	if finalized.Status != models.MatchStatusFinalized || finalized.WinnerTeamID == nil {
		return nil, fmt.Errorf("%w: match %s", ErrMatchNotFinalized, finalized.ID)
	}
	at := time.Now().UTC()
	if finalized.FinalizedAt != nil {
		at = *finalized.FinalizedAt
	}

	var produced []*models.Match
	queue := []*models.Match{finalized}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > len(t.nodes) {
			return nil, fmt.Errorf("%w: advancement from match %s did not terminate", ErrCorruptTree, finalized.ID)
		}
		cur := queue[0]
		queue = queue[1:]

		node, ok := t.nodeByID[cur.NodeID]
		if !ok {
			return nil, fmt.Errorf("%w: match %s references unknown node %s", ErrCorruptTree, cur.ID, cur.NodeID)
		}
		winner := *cur.WinnerTeamID
		node.WinnerTeamID = &winner
		t.changes.nodeUpdated(node)

		if cur.Round >= t.Rounds {
			t.complete(winner)
			continue
		}

		parent, side, err := t.parentSlot(cur)
		if err != nil {
			return nil, err
		}
		if side == SideA {
			parent.SlotA = models.TeamSlot(winner)
		} else {
			parent.SlotB = models.TeamSlot(winner)
		}
		t.changes.nodeUpdated(parent)

		if !parent.Ready() {
			continue
		}
		m, err := t.createMatch(parent, at)
		if err != nil {
			return nil, err
		}
		produced = append(produced, m)
		if m.IsBye {
			t.finalizeBye(m, at)
			queue = append(queue, m)
		}
	}
	return produced, nil
}

// parentSlot returns the parent node of m and the side m's winner goes to, refusing
// a slot that is already resolved.
func (t *Tree) parentSlot(m *models.Match) (*models.BracketNode, SlotSide, error) {
	pr, pp, side := ParentOf(m.Round, m.Position)
	parent, ok := t.Node(pr, pp)
	if !ok {
		return nil, side, fmt.Errorf("%w: missing node at round %d position %d", ErrCorruptTree, pr, pp)
	}
	slot := parent.SlotA
	if side == SideB {
		slot = parent.SlotB
	}
	if slot.Resolved() {
		return nil, side, fmt.Errorf("%w: round %d position %d slot %s", ErrSlotAlreadyResolved, pr, pp, side)
	}
	return parent, side, nil
}

func (t *Tree) finalizeBye(m *models.Match, at time.Time) {
	winner := m.TeamAID
	finalizedAt := at
	m.Status = models.MatchStatusFinalized
	m.WinnerTeamID = &winner
	m.FinalizedAt = &finalizedAt
	t.changes.matchUpdated(m)
}

func (t *Tree) complete(champion int) {
	t.Status = models.StatusCompleted
	t.ChampionTeamID = &champion
	t.changes.TournamentChanged = true
}
