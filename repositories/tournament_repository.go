package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/esports-tournament/models"
	"github.com/lib/pq"
)

var (
	ErrTournamentNotFound     = errors.New("tournament not found")
	ErrTournamentNameConflict = errors.New("tournament name already exists")
)

type ListTournamentsFilter struct {
	Status *models.TournamentStatus
	Limit  int
	Offset int
}

type TournamentRepository interface {
	Create(ctx context.Context, tournament *models.Tournament) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	// GetByIDForUpdate блокирует строку турнира до конца транзакции exec.
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error)
	// UpdateBracketState записывает статус, размеры сетки и чемпиона и увеличивает bracket_version.
	UpdateBracketState(ctx context.Context, exec SQLExecutor, tournament *models.Tournament) error
	UpdateArchiveKey(ctx context.Context, tournamentID int, archiveKey *string) error
	// RegisterTeam добавляет команду со следующим seed. false, если команда уже зарегистрирована.
	RegisterTeam(ctx context.Context, exec SQLExecutor, tournamentID, teamID int) (bool, error)
	// ListRegisteredTeams возвращает команды турнира в порядке регистрации.
	ListRegisteredTeams(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Team, error)
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

const tournamentColumns = `id, name, status, bracket_size, rounds, champion_team_id, bracket_version, archive_key, created_at`

func (r *postgresTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	if t.Status == "" {
		t.Status = models.StatusCreated
	}
	query := `
		INSERT INTO tournaments (name, status)
		VALUES ($1, $2)
		RETURNING id, bracket_version, created_at`

	err := r.db.QueryRowContext(ctx, query, t.Name, t.Status).Scan(&t.ID, &t.BracketVersion, &t.CreatedAt)
	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE id = $1`
	return r.getOne(ctx, pickExecutor(r.db, exec), query, id)
}

func (r *postgresTournamentRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, pickExecutor(r.db, exec), query, id)
}

func (r *postgresTournamentRepository) getOne(ctx context.Context, executor SQLExecutor, query string, id int) (*models.Tournament, error) {
	t, err := scanTournament(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *postgresTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE 1=1`

	args := []interface{}{}
	argID := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tournaments := make([]models.Tournament, 0)
	for rows.Next() {
		t, scanErr := scanTournament(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		tournaments = append(tournaments, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) UpdateBracketState(ctx context.Context, exec SQLExecutor, t *models.Tournament) error {
	executor := pickExecutor(r.db, exec)
	query := `
		UPDATE tournaments SET
			status = $1,
			bracket_size = $2,
			rounds = $3,
			champion_team_id = $4,
			bracket_version = bracket_version + 1
		WHERE id = $5
		RETURNING bracket_version`

	err := executor.QueryRowContext(ctx, query, t.Status, t.BracketSize, t.Rounds, t.ChampionTeamID, t.ID).Scan(&t.BracketVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTournamentNotFound
		}
		return fmt.Errorf("failed to update bracket state of tournament %d: %w", t.ID, err)
	}
	return nil
}

func (r *postgresTournamentRepository) UpdateArchiveKey(ctx context.Context, tournamentID int, archiveKey *string) error {
	query := `UPDATE tournaments SET archive_key = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, archiveKey, tournamentID)
	if err != nil {
		return fmt.Errorf("failed to update tournament archive key: %w", err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) RegisterTeam(ctx context.Context, exec SQLExecutor, tournamentID, teamID int) (bool, error) {
	executor := pickExecutor(r.db, exec)
	// Вызывающий держит блокировку строки турнира, поэтому MAX(seed)+1 не гоняется.
	query := `
		INSERT INTO tournament_teams (tournament_id, team_id, seed)
		SELECT $1, $2, COALESCE(MAX(seed), 0) + 1 FROM tournament_teams WHERE tournament_id = $1
		ON CONFLICT (tournament_id, team_id) DO NOTHING`

	result, err := executor.ExecContext(ctx, query, tournamentID, teamID)
	if err != nil {
		return false, r.handleTournamentError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *postgresTournamentRepository) ListRegisteredTeams(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Team, error) {
	executor := pickExecutor(r.db, exec)
	query := `
		SELECT t.id, t.name, t.members, t.created_at
		FROM tournament_teams tt
		JOIN teams t ON t.id = tt.team_id
		WHERE tt.tournament_id = $1
		ORDER BY tt.seed ASC`

	rows, err := executor.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams of tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	teams := make([]models.Team, 0)
	for rows.Next() {
		team, scanErr := scanTeam(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		teams = append(teams, *team)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return teams, nil
}

func scanTournament(row rowScanner) (*models.Tournament, error) {
	var t models.Tournament
	err := row.Scan(
		&t.ID, &t.Name, &t.Status, &t.BracketSize, &t.Rounds,
		&t.ChampionTeamID, &t.BracketVersion, &t.ArchiveKey, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505":
			if pqErr.Constraint == "tournaments_name_key" {
				return ErrTournamentNameConflict
			}
		case "23503":
			switch pqErr.Constraint {
			case "tournament_teams_team_id_fkey":
				return ErrTeamNotFound
			case "tournament_teams_tournament_id_fkey":
				return ErrTournamentNotFound
			}
		}
	}
	return err
}
