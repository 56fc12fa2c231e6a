package brackets

import (
	"context"
	"time"

	"github.com/Dosada05/esports-tournament/models"
)

type GenerateBracketParams struct {
	Tournament *models.Tournament
	// Teams in registration order; the order is the only seeding input.
	Teams []models.Team
	Now   time.Time
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Tree, error)

	GetName() string
}
