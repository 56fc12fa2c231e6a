package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Dosada05/esports-tournament/middleware"
	"github.com/Dosada05/esports-tournament/services"
	"github.com/google/uuid"
)

type MatchHandler struct {
	matchService services.MatchService
	logger       *slog.Logger
}

func NewMatchHandler(ms services.MatchService, logger *slog.Logger) *MatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchHandler{matchService: ms, logger: logger}
}

type submitResultRequest struct {
	WinnerTeamID int             `json:"winner_team_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func (req submitResultRequest) toInput() (services.SubmitResultInput, error) {
	if req.WinnerTeamID <= 0 {
		return services.SubmitResultInput{}, errors.New("winner_team_id must be a positive integer")
	}
	return services.SubmitResultInput{WinnerTeamID: req.WinnerTeamID, Payload: req.Payload}, nil
}

// SubmitResultHandler обрабатывает POST /api/matches/{matchID}/result.
// matchID может быть id матча или id узла сетки.
func (h *MatchHandler) SubmitResultHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getUUIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var req submitResultRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	out, err := h.matchService.SubmitResult(r.Context(), matchID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.logAction(r, "Result submitted", out.Match.TournamentID, out.Match.ID)

	if err := writeJSON(w, http.StatusOK, jsonResponse{"result": out}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ReportResultHandler обрабатывает POST /api/matches/{matchID}/report
func (h *MatchHandler) ReportResultHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getUUIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var req submitResultRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.ReportResult(r.Context(), matchID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.logAction(r, "Result reported", match.TournamentID, match.ID)

	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ConfirmResultHandler обрабатывает POST /api/matches/{matchID}/confirm
func (h *MatchHandler) ConfirmResultHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getUUIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	out, err := h.matchService.ConfirmResult(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.logAction(r, "Result confirmed", out.Match.TournamentID, out.Match.ID)

	if err := writeJSON(w, http.StatusOK, jsonResponse{"result": out}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *MatchHandler) logAction(r *http.Request, msg string, tournamentID int, matchID uuid.UUID) {
	attrs := []any{
		slog.Int("tournament_id", tournamentID),
		slog.String("match_id", matchID.String()),
	}
	if userID, err := middleware.GetUserIDFromContext(r.Context()); err == nil {
		attrs = append(attrs, slog.Int("user_id", userID))
	}
	h.logger.InfoContext(r.Context(), msg, attrs...)
}
