package models

import "time"

// TokenPair — пара токенов, выдаваемая при любом успешном способе
// аутентификации (пароль, SSH-ключ, oauth2-грант).
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — случайный секрет, который клиент хранит и предъявляет
//     для выпуска новой пары токенов; на сервере хранится только его хэш;
//   - AccessExpiresAt — момент истечения access-токена (UTC).
type TokenPair struct {
	// AccessToken — JWT для авторизации запросов.
	AccessToken string
	// RefreshToken — случайный секрет для обновления пары.
	RefreshToken string
	// AccessExpiresAt — время истечения действия access-токена (UTC).
	AccessExpiresAt time.Time
}

// ExpiresIn возвращает оставшийся срок жизни access-токена в целых секундах
// — значение поля expires_in конверта ответа.
func (p *TokenPair) ExpiresIn(now time.Time) int64 {
	d := p.AccessExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}

	return int64(d / time.Second)
}
