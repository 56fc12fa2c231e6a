package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Dosada05/esports-tournament/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrBracketNodeNotFound = errors.New("bracket node not found")
	ErrBracketExists       = errors.New("bracket nodes already exist for this tournament")
)

// NodeKey адресует узел сетки внутри турнира.
type NodeKey struct {
	Round    int
	Position int
}

type BracketNodeRepository interface {
	BatchCreate(ctx context.Context, exec SQLExecutor, nodes []*models.BracketNode) error
	GetByID(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.BracketNode, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.BracketNode, error)
	// LockNodes берёт FOR UPDATE на узлы в порядке (round, position), чтобы
	// конкурентные транзакции всегда блокировали строки в одном порядке.
	LockNodes(ctx context.Context, exec SQLExecutor, tournamentID int, keys []NodeKey) ([]uuid.UUID, error)
	Update(ctx context.Context, exec SQLExecutor, node *models.BracketNode) error
}

type postgresBracketNodeRepository struct {
	db *sql.DB
}

func NewPostgresBracketNodeRepository(db *sql.DB) BracketNodeRepository {
	return &postgresBracketNodeRepository{db: db}
}

const bracketNodeColumns = `id, tournament_id, round, position, slot_a_state, slot_a_team_id, slot_b_state, slot_b_team_id, winner_team_id`

func (r *postgresBracketNodeRepository) BatchCreate(ctx context.Context, exec SQLExecutor, nodes []*models.BracketNode) error {
	if len(nodes) == 0 {
		return nil
	}
	executor := pickExecutor(r.db, exec)

	const perRow = 9
	var sb strings.Builder
	sb.WriteString(`INSERT INTO bracket_nodes (` + bracketNodeColumns + `) VALUES `)
	args := make([]interface{}, 0, len(nodes)*perRow)
	for i, n := range nodes {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * perRow
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		args = append(args,
			n.ID, n.TournamentID, n.Round, n.Position,
			n.SlotA.State, n.SlotA.TeamID, n.SlotB.State, n.SlotB.TeamID, n.WinnerTeamID,
		)
	}

	if _, err := executor.ExecContext(ctx, sb.String(), args...); err != nil {
		return r.handleNodeError(err)
	}
	return nil
}

func (r *postgresBracketNodeRepository) GetByID(ctx context.Context, exec SQLExecutor, id uuid.UUID) (*models.BracketNode, error) {
	executor := pickExecutor(r.db, exec)
	query := `SELECT ` + bracketNodeColumns + ` FROM bracket_nodes WHERE id = $1`

	node, err := scanBracketNode(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBracketNodeNotFound
		}
		return nil, err
	}
	return node, nil
}

func (r *postgresBracketNodeRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.BracketNode, error) {
	executor := pickExecutor(r.db, exec)
	query := `SELECT ` + bracketNodeColumns + ` FROM bracket_nodes WHERE tournament_id = $1 ORDER BY round ASC, position ASC`

	rows, err := executor.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bracket nodes of tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	nodes := make([]*models.BracketNode, 0)
	for rows.Next() {
		node, scanErr := scanBracketNode(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		nodes = append(nodes, node)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (r *postgresBracketNodeRepository) LockNodes(ctx context.Context, exec SQLExecutor, tournamentID int, keys []NodeKey) ([]uuid.UUID, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	executor := pickExecutor(r.db, exec)

	rounds := make([]int64, len(keys))
	positions := make([]int64, len(keys))
	for i, k := range keys {
		rounds[i] = int64(k.Round)
		positions[i] = int64(k.Position)
	}

	query := `
		SELECT id FROM bracket_nodes
		WHERE tournament_id = $1
		  AND (round, position) IN (SELECT * FROM unnest($2::int[], $3::int[]))
		ORDER BY round ASC, position ASC
		FOR UPDATE`

	rows, err := executor.QueryContext(ctx, query, tournamentID, pq.Array(rounds), pq.Array(positions))
	if err != nil {
		return nil, fmt.Errorf("failed to lock bracket nodes of tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0, len(keys))
	for rows.Next() {
		var id uuid.UUID
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, scanErr
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) != len(keys) {
		return nil, fmt.Errorf("%w: locked %d of %d nodes in tournament %d", ErrBracketNodeNotFound, len(ids), len(keys), tournamentID)
	}
	return ids, nil
}

func (r *postgresBracketNodeRepository) Update(ctx context.Context, exec SQLExecutor, node *models.BracketNode) error {
	executor := pickExecutor(r.db, exec)
	query := `
		UPDATE bracket_nodes SET
			slot_a_state = $1,
			slot_a_team_id = $2,
			slot_b_state = $3,
			slot_b_team_id = $4,
			winner_team_id = $5
		WHERE id = $6`

	result, err := executor.ExecContext(ctx, query,
		node.SlotA.State, node.SlotA.TeamID, node.SlotB.State, node.SlotB.TeamID, node.WinnerTeamID, node.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update bracket node %s: %w", node.ID, err)
	}
	return checkAffectedRows(result, ErrBracketNodeNotFound)
}

func scanBracketNode(row rowScanner) (*models.BracketNode, error) {
	var n models.BracketNode
	err := row.Scan(
		&n.ID, &n.TournamentID, &n.Round, &n.Position,
		&n.SlotA.State, &n.SlotA.TeamID, &n.SlotB.State, &n.SlotB.TeamID, &n.WinnerTeamID,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *postgresBracketNodeRepository) handleNodeError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" && pqErr.Constraint == "bracket_nodes_position_key" {
		return ErrBracketExists
	}
	return err
}
