package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dosada05/esports-tournament/handlers"
	"github.com/Dosada05/esports-tournament/models"
	"github.com/Dosada05/esports-tournament/services"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "routes-secret"

type stubTeamService struct{}

func (stubTeamService) CreateTeam(_ context.Context, input services.CreateTeamInput) (*models.Team, error) {
	return &models.Team{ID: 1, Name: input.Name}, nil
}

func (stubTeamService) GetTeamByID(_ context.Context, id int) (*models.Team, error) {
	return &models.Team{ID: id, Name: "NAVI"}, nil
}

func (stubTeamService) ListTeams(_ context.Context, _, _ int) ([]models.Team, error) {
	return []models.Team{}, nil
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	router := chi.NewRouter()
	SetupRoutes(router,
		Options{JWTSecret: testSecret, AllowedOrigins: []string{"https://bracket.example"}},
		handlers.NewTeamHandler(stubTeamService{}),
		handlers.NewTournamentHandler(nil, nil, nil, nil),
		handlers.NewMatchHandler(nil, nil),
	)
	return router
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 1, "role": role}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func do(router http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	router := newRouter(t)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/teams", "", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/teams/4", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/nope", "", "").Code)

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, "/api/teams", "", `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodPost, "/api/teams", bearer(t, "player"), `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusCreated, do(router, http.MethodPost, "/api/teams", bearer(t, "organizer"), `{"name":"x"}`).Code)

	matchPath := "/api/matches/" + uuid.NewString()
	for _, p := range []string{"/result", "/report", "/confirm"} {
		assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, matchPath+p, "", "").Code, p)
	}
	for _, p := range []string{"/api/tournaments", "/api/tournaments/1/teams", "/api/tournaments/1/generate-bracket"} {
		assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, p, "", "").Code, p)
	}
}

func TestRoutes_CORSPreflight(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/tournaments", nil)
	req.Header.Set("Origin", "https://bracket.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://bracket.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/tournaments", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
