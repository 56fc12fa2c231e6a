package brackets

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dosada05/esports-tournament/models"
	"github.com/google/uuid"
)

// Match lifecycle: pending -> reported -> finalized, or pending -> finalized directly.
// Bye matches are created finalized and never pass through this file.

// resolveMatch accepts a match id or the id of the node hosting it. A node whose
// match does not exist yet is waiting for an upstream result.
func (t *Tree) resolveMatch(id uuid.UUID) (*models.Match, error) {
	if m, ok := t.matches[id]; ok {
		return m, nil
	}
	if node, ok := t.nodeByID[id]; ok {
		if m, ok := t.matchByNode[node.ID]; ok {
			return m, nil
		}
		return nil, fmt.Errorf("%w: round %d position %d", ErrMatchNotReady, node.Round, node.Position)
	}
	return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
}

func (t *Tree) validateResult(m *models.Match, winnerTeamID int) error {
	if m.Status == models.MatchStatusFinalized {
		return fmt.Errorf("%w: match %s", ErrAlreadyFinalized, m.ID)
	}
	if !m.HasParticipant(winnerTeamID) {
		return fmt.Errorf("%w: team %d in match %s", ErrInvalidWinner, winnerTeamID, m.ID)
	}
	if m.TeamBID == nil {
		return fmt.Errorf("%w: match %s has a single participant", ErrMatchNotReady, m.ID)
	}
	return nil
}

// SubmitResult finalizes a pending or reported match with the given winner and runs
// the advancement cascade. It returns the finalized match and the matches the
// cascade created or finalized.
func (t *Tree) SubmitResult(id uuid.UUID, winnerTeamID int, payload json.RawMessage, now time.Time) (*models.Match, []*models.Match, error) {
	m, err := t.resolveMatch(id)
	if err != nil {
		return nil, nil, err
	}
	if err := t.validateResult(m, winnerTeamID); err != nil {
		return nil, nil, err
	}
	// Checked up front so a refused write leaves the tree untouched.
	if m.Round < t.Rounds {
		if _, _, err := t.parentSlot(m); err != nil {
			return nil, nil, err
		}
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	winner := winnerTeamID
	finalizedAt := now
	m.Status = models.MatchStatusFinalized
	m.WinnerTeamID = &winner
	m.FinalizedAt = &finalizedAt
	if len(payload) > 0 {
		m.Payload = payload
	}
	t.changes.matchUpdated(m)

	if t.Status == models.StatusBracketGenerated {
		t.Status = models.StatusInProgress
		t.changes.TournamentChanged = true
	}

	cascade, err := t.Advance(m)
	if err != nil {
		return nil, nil, err
	}
	return m, cascade, nil
}

// ReportResult records an unconfirmed result. Reporting again before confirmation
// replaces the previous report.
func (t *Tree) ReportResult(id uuid.UUID, winnerTeamID int, payload json.RawMessage) (*models.Match, error) {
	m, err := t.resolveMatch(id)
	if err != nil {
		return nil, err
	}
	if err := t.validateResult(m, winnerTeamID); err != nil {
		return nil, err
	}

	winner := winnerTeamID
	m.Status = models.MatchStatusReported
	m.ReportedWinnerID = &winner
	if len(payload) > 0 {
		m.Payload = payload
	}
	t.changes.matchUpdated(m)
	return m, nil
}

// ConfirmResult finalizes a reported match with its reported winner.
func (t *Tree) ConfirmResult(id uuid.UUID, now time.Time) (*models.Match, []*models.Match, error) {
	m, err := t.resolveMatch(id)
	if err != nil {
		return nil, nil, err
	}
	switch m.Status {
	case models.MatchStatusFinalized:
		return nil, nil, fmt.Errorf("%w: match %s", ErrAlreadyFinalized, m.ID)
	case models.MatchStatusPending:
		return nil, nil, fmt.Errorf("%w: match %s", ErrMatchNotReported, m.ID)
	}
	if m.ReportedWinnerID == nil {
		return nil, nil, fmt.Errorf("%w: match %s", ErrMatchNotReported, m.ID)
	}
	return t.SubmitResult(m.ID, *m.ReportedWinnerID, nil, now)
}
