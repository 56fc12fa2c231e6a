package routes

import (
	"log/slog"
	"net/http"

	"github.com/Dosada05/esports-tournament/handlers"
	"github.com/Dosada05/esports-tournament/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // alias, чтобы не конфликтовать с нашим middleware
	"github.com/go-chi/cors"
)

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	Logger         *slog.Logger
}

func SetupRoutes(
	router chi.Router,
	opts Options,
	teamHandler *handlers.TeamHandler,
	tournamentHandler *handlers.TournamentHandler,
	matchHandler *handlers.MatchHandler,
) {
	allowedOrigins := opts.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Изменять сетку могут только организаторы и админы.
	organizerOnly := func(r chi.Router) {
		r.Use(middleware.Authenticate([]byte(opts.JWTSecret), opts.Logger))
		r.Use(middleware.Authorize(middleware.RoleOrganizer, middleware.RoleAdmin))
	}

	router.Route("/api", func(r chi.Router) {
		r.Route("/teams", func(r chi.Router) {
			r.Get("/", teamHandler.ListTeams)
			r.Get("/{teamID}", teamHandler.GetTeamByID)

			r.Group(func(r chi.Router) {
				organizerOnly(r)
				r.Post("/", teamHandler.CreateTeam)
			})
		})

		r.Route("/tournaments", func(r chi.Router) {
			r.Get("/", tournamentHandler.ListHandler)

			r.Group(func(r chi.Router) {
				organizerOnly(r)
				r.Post("/", tournamentHandler.CreateHandler)
			})

			r.Route("/{tournamentID}", func(r chi.Router) {
				r.Get("/", tournamentHandler.GetByIDHandler)
				r.Get("/bracket", tournamentHandler.GetBracketHandler)
				r.Get("/matches", tournamentHandler.ListMatchesHandler)
				r.Get("/leaderboard", tournamentHandler.GetLeaderboardHandler)

				r.Group(func(r chi.Router) {
					organizerOnly(r)
					r.Post("/teams", tournamentHandler.RegisterTeamsHandler)
					r.Post("/generate-bracket", tournamentHandler.GenerateBracketHandler)
				})
			})
		})

		r.Route("/matches/{matchID}", func(r chi.Router) {
			organizerOnly(r)
			r.Post("/result", matchHandler.SubmitResultHandler)
			r.Post("/report", matchHandler.ReportResultHandler)
			r.Post("/confirm", matchHandler.ConfirmResultHandler)
		})
	})
}
