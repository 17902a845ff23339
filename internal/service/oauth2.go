package service

import (
	"context"
	"fmt"

	"github.com/dispatchcore/auth-service/internal/models"

	"github.com/google/uuid"
)

// Поддерживаемые значения grant_type oauth2-эндпоинта.
const (
	GrantTypePassword     = "password"
	GrantTypeRefreshToken = "refresh_token"
)

// OAuth2Request — параметры гранта в терминах RFC 6749.
// Для password-гранта обязательны Username/Password, для refresh_token-гранта
// — RefreshToken.
type OAuth2Request struct {
	GrantType    string
	Username     string
	Password     string
	RefreshToken string
}

// OAuth2Exchange выполняет oauth2-грант выбранного типа.
//
// Адаптер ничего не добавляет к семантике: password-грант эквивалентен
// CredentialsExchange, refresh_token-грант — RefreshExchange, так что
// refresh-токены гранта подчинены тому же правилу одноразовой ротации,
// а конверт ответа одинаков для всех входов.
func (s *Service) OAuth2Exchange(ctx context.Context, req OAuth2Request) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.oauth2.OAuth2Exchange"

	switch req.GrantType {
	case GrantTypePassword:
		return s.CredentialsExchange(ctx, req.Username, req.Password)
	case GrantTypeRefreshToken:
		return s.RefreshExchange(ctx, req.RefreshToken)
	default:
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrUnsupportedGrantType)
	}
}
