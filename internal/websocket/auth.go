package chatws

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/services"
	"github.com/trailcrew/TrailCrewBack/pkg/utils"
)

//go:generate mockgen -source=auth.go -destination=../mocks/mock_auth.go -package=mocks

type Authenticator interface {
	Authenticate(token string) (models.Identity, error)
}

// TokenAuthenticator validates HS256 bearer tokens issued by the auth
// service.
type TokenAuthenticator struct {
	Secret string
}

func (a TokenAuthenticator) Authenticate(token string) (models.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Identity{}, fmt.Errorf("%w: missing token", services.ErrUnauthenticated)
	}

	claims, err := utils.ValidateToken(token, a.Secret)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", services.ErrUnauthenticated, err)
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil || userID <= 0 {
		return models.Identity{}, fmt.Errorf("%w: invalid subject", services.ErrUnauthenticated)
	}

	return models.Identity{UserID: userID, Role: claims.Role}, nil
}
