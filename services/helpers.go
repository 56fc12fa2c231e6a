package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/esports-tournament/brackets"
	"github.com/Dosada05/esports-tournament/repositories"
)

// runInTx выполняет fn в одной транзакции: commit при nil, rollback при ошибке или панике.
func runInTx(ctx context.Context, db *sql.DB, logger *slog.Logger, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.ErrorContext(ctx, "Transaction rollback failed", slog.Any("error", rbErr), slog.Any("original_error", err))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()
	return fn(tx)
}

// mapRepositoryError переводит ошибки репозиториев в ошибки сервисного уровня.
func mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrTeamNotFound):
		return ErrTeamNotFound
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return ErrTournamentNotFound
	case errors.Is(err, repositories.ErrTeamNameConflict):
		return ErrTeamNameConflict
	case errors.Is(err, repositories.ErrTournamentNameConflict):
		return ErrTournamentNameConflict
	case errors.Is(err, repositories.ErrMatchNotFound):
		return ErrMatchNotFound
	case errors.Is(err, repositories.ErrMatchAlreadyFinalized):
		return ErrAlreadyFinalized
	case errors.Is(err, repositories.ErrBracketExists):
		return ErrAlreadyGenerated
	}
	return err
}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// persistChanges пишет изменения дерева в порядке, который требуют внешние ключи:
// узлы, затем новые матчи, затем обновлённые матчи, затем строка турнира.
func persistChanges(
	ctx context.Context,
	tx repositories.SQLExecutor,
	tree *brackets.Tree,
	tournamentRepo repositories.TournamentRepository,
	nodeRepo repositories.BracketNodeRepository,
	matchRepo repositories.MatchRepository,
) (int, error) {
	changes := tree.Changes()

	if err := nodeRepo.BatchCreate(ctx, tx, changes.CreatedNodes); err != nil {
		return 0, fmt.Errorf("failed to create bracket nodes: %w", mapRepositoryError(err))
	}
	for _, node := range changes.UpdatedNodes {
		if err := nodeRepo.Update(ctx, tx, node); err != nil {
			return 0, fmt.Errorf("failed to update bracket node r%d p%d: %w", node.Round, node.Position, err)
		}
	}
	if err := matchRepo.BatchCreate(ctx, tx, changes.CreatedMatches); err != nil {
		return 0, fmt.Errorf("failed to create matches: %w", mapRepositoryError(err))
	}
	for _, m := range changes.UpdatedMatches {
		if err := matchRepo.Update(ctx, tx, m); err != nil {
			return 0, fmt.Errorf("failed to update match %s: %w", m.ID, mapRepositoryError(err))
		}
	}

	state := tree.State()
	if err := tournamentRepo.UpdateBracketState(ctx, tx, state); err != nil {
		return 0, fmt.Errorf("failed to update tournament state: %w", mapRepositoryError(err))
	}
	tree.ResetChanges()
	return state.BracketVersion, nil
}
