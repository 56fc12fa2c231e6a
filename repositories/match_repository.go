package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Dosada05/esports-tournament/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrMatchNotFound         = errors.New("match not found")
	ErrMatchAlreadyFinalized = errors.New("match already finalized")
	ErrMatchNodeConflict     = errors.New("bracket node already hosts a match")
)

type MatchFilter struct {
	Round  *int
	Status *models.MatchStatus
}

type MatchRepository interface {
	BatchCreate(ctx context.Context, exec SQLExecutor, matches []*models.Match) error
	// GetByIDForUpdate ищет матч по id матча или по id его узла и блокирует строку.
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.Match, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, filter MatchFilter) ([]*models.Match, error)
	// Update никогда не трогает финализированный матч: 0 строк -> ErrMatchAlreadyFinalized.
	Update(ctx context.Context, exec SQLExecutor, match *models.Match) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

const matchColumns = `id, node_id, tournament_id, round, position, team_a_id, team_b_id, is_bye, status,
			reported_winner_id, winner_team_id, payload, created_at, finalized_at`

func (r *postgresMatchRepository) BatchCreate(ctx context.Context, exec SQLExecutor, matches []*models.Match) error {
	if len(matches) == 0 {
		return nil
	}
	executor := pickExecutor(r.db, exec)

	const perRow = 14
	var sb strings.Builder
	sb.WriteString(`INSERT INTO matches (` + matchColumns + `) VALUES `)
	args := make([]interface{}, 0, len(matches)*perRow)
	for i, m := range matches {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 1; j <= perRow; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(i*perRow + j))
		}
		sb.WriteString(")")
		args = append(args,
			m.ID, m.NodeID, m.TournamentID, m.Round, m.Position, m.TeamAID, m.TeamBID, m.IsBye, m.Status,
			m.ReportedWinnerID, m.WinnerTeamID, payloadArg(m.Payload), m.CreatedAt, m.FinalizedAt,
		)
	}

	if _, err := executor.ExecContext(ctx, sb.String(), args...); err != nil {
		return r.handleMatchError(err)
	}
	return nil
}

func (r *postgresMatchRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.Match, error) {
	executor := pickExecutor(r.db, exec)
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1 OR node_id = $1 FOR UPDATE`

	m, err := scanMatch(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, filter MatchFilter) ([]*models.Match, error) {
	executor := pickExecutor(r.db, exec)

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1`)

	args := []interface{}{tournamentID}
	placeholderIndex := 2

	if filter.Round != nil {
		queryBuilder.WriteString(" AND round = $")
		queryBuilder.WriteString(strconv.Itoa(placeholderIndex))
		args = append(args, *filter.Round)
		placeholderIndex++
	}
	if filter.Status != nil {
		queryBuilder.WriteString(" AND status = $")
		queryBuilder.WriteString(strconv.Itoa(placeholderIndex))
		args = append(args, *filter.Status)
	}

	queryBuilder.WriteString(" ORDER BY round ASC, position ASC")

	rows, err := executor.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches of tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *postgresMatchRepository) Update(ctx context.Context, exec SQLExecutor, m *models.Match) error {
	executor := pickExecutor(r.db, exec)
	query := `
		UPDATE matches SET
			status = $1,
			reported_winner_id = $2,
			winner_team_id = $3,
			payload = $4,
			finalized_at = $5
		WHERE id = $6 AND status <> 'finalized'`

	result, err := executor.ExecContext(ctx, query,
		m.Status, m.ReportedWinnerID, m.WinnerTeamID, payloadArg(m.Payload), m.FinalizedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update match %s: %w", m.ID, err)
	}
	return checkAffectedRows(result, ErrMatchAlreadyFinalized)
}

// payloadArg передаёт пустой payload как NULL, а не как пустую строку jsonb.
func payloadArg(p json.RawMessage) interface{} {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	var payload []byte
	err := row.Scan(
		&m.ID, &m.NodeID, &m.TournamentID, &m.Round, &m.Position, &m.TeamAID, &m.TeamBID, &m.IsBye, &m.Status,
		&m.ReportedWinnerID, &m.WinnerTeamID, &payload, &m.CreatedAt, &m.FinalizedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		m.Payload = json.RawMessage(payload)
	}
	return &m, nil
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" && pqErr.Constraint == "matches_node_id_key" {
		return ErrMatchNodeConflict
	}
	return err
}
