package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Dosada05/esports-tournament/brackets"
	"github.com/Dosada05/esports-tournament/models"
	"github.com/Dosada05/esports-tournament/repositories"
	"github.com/Dosada05/esports-tournament/storage"
)

const archiveTimeout = 15 * time.Second

// BracketArchiver выгружает итоговую сетку завершённого турнира в объектное хранилище.
// Ошибки только логируются: архив не должен ломать отправку результата.
type BracketArchiver struct {
	uploader       storage.FileUploader
	tournamentRepo repositories.TournamentRepository
	logger         *slog.Logger
}

// NewBracketArchiver возвращает nil, если хранилище не настроено.
func NewBracketArchiver(uploader storage.FileUploader, tournamentRepo repositories.TournamentRepository, logger *slog.Logger) *BracketArchiver {
	if uploader == nil {
		return nil
	}
	return &BracketArchiver{uploader: uploader, tournamentRepo: tournamentRepo, logger: defaultLogger(logger)}
}

type bracketArchive struct {
	Bracket     *BracketView              `json:"bracket"`
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
	ArchivedAt  time.Time                 `json:"archived_at"`
}

// Archive возвращает ключ загруженного объекта или nil.
func (a *BracketArchiver) Archive(ctx context.Context, tournament *models.Tournament, tree *brackets.Tree) *string {
	if a == nil || tournament == nil || tree == nil {
		return nil
	}
	// Запрос мог уже завершиться; архив живёт своим таймаутом.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	logger := a.logger.With(slog.Int("tournament_id", tournament.ID))

	teams, err := a.tournamentRepo.ListRegisteredTeams(ctx, nil, tournament.ID)
	if err != nil {
		logger.WarnContext(ctx, "Bracket archive skipped: failed to load teams", slog.Any("error", err))
		return nil
	}
	tournament.Teams = teams

	doc := bracketArchive{
		Bracket:     buildBracketView(tournament, tree),
		Leaderboard: brackets.LeaderboardFromTree(tree, teams),
		ArchivedAt:  utcNow(),
	}
	key := storage.BracketArchiveKey(tournament.ID, tournament.BracketVersion)
	result, err := storage.UploadJSON(ctx, a.uploader, key, doc)
	if err != nil {
		logger.ErrorContext(ctx, "Bracket archive upload failed", slog.String("key", key), slog.Any("error", err))
		return nil
	}
	if err := a.tournamentRepo.UpdateArchiveKey(ctx, tournament.ID, &result.Key); err != nil {
		logger.ErrorContext(ctx, "Failed to store bracket archive key", slog.String("key", key), slog.Any("error", err))
		return nil
	}
	logger.InfoContext(ctx, "Bracket archived", slog.String("key", result.Key), slog.String("location", result.Location))
	return &result.Key
}
