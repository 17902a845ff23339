// service содержит бизнес-логику auth-сервиса:
// проверку учётных данных (пароль, SSH-ключ, oauth2-грант), выпуск/проверку
// access-токенов и ротацию одноразовых refresh-токенов через интерфейсы
// из пакета storage.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданное хранилище (storage.Storage) потокобезопасно.
//   - Любой успешный способ аутентификации завершается одним и тем же
//     IssueTokens: форма конверта и TTL-политика едины для всех методов.
//   - Ошибки возвращаются и далее маппятся
//     транспортом на HTTP-статусы (см. комментарии к переменным ошибок ниже).
package service

import (
	"errors"

	"github.com/dispatchcore/auth-service/internal/cache"
	"github.com/dispatchcore/auth-service/internal/config"
	"github.com/dispatchcore/auth-service/internal/storage"
)

var (
	// ErrMissingCredentials — в запросе нет username и/или password.
	// Транспорт: 400 Bad Request.
	ErrMissingCredentials = errors.New("missing username or password")

	// ErrMissingRefreshToken — в запросе нет refresh-токена.
	// Транспорт: 400 Bad Request.
	ErrMissingRefreshToken = errors.New("missing refresh-token")

	// ErrUnknownUser — пользователь с таким username не существует.
	// Отличается от ErrPasswordMismatch ради аудита; наружу оба дают 401.
	ErrUnknownUser = errors.New("user does not exist")

	// ErrPasswordMismatch — пароль не подходит к сохранённому хэшу.
	// Транспорт: 401 Unauthorized.
	ErrPasswordMismatch = errors.New("password does not match")

	// ErrInvalidRefreshToken — предъявленный refresh-токен не числится
	// в хранилище: никогда не выдавался либо уже потреблён ротацией.
	// Транспорт: 401 Unauthorized.
	ErrInvalidRefreshToken = errors.New("refresh-token invalid")

	// ErrTokenExpired — refresh-токен найден, но срок его действия истёк.
	// Транспорт: 401 Unauthorized.
	ErrTokenExpired = errors.New("token expired")

	// ErrUserNotFound — владелец refresh-токена удалён (токен пережил аккаунт).
	// Транспорт: 401 Unauthorized.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidAccessToken — access-токен не прошёл проверку подписи,
	// формата или срока действия. Транспорт: 401 Unauthorized.
	ErrInvalidAccessToken = errors.New("invalid or expired token")

	// ErrUnsupportedGrantType — oauth2-запрос с неизвестным grant_type.
	// Транспорт: 400 Bad Request.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный
	// refresh-токен (редчайшие коллизии хэша при сохранении). Транспорт: 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")

	// ErrInvalidSSHPayload — подписанный payload SSH-обмена малформирован
	// (нет разделителя, не парсится время, username не совпадает).
	// Транспорт: 400 Bad Request.
	ErrInvalidSSHPayload = errors.New("invalid ssh payload")

	// ErrStaleSSHPayload — метка времени в payload вне допустимого окна.
	// Транспорт: 401 Unauthorized.
	ErrStaleSSHPayload = errors.New("ssh payload expired")

	// ErrSSHSignatureMismatch — подпись не подтверждена ни одним
	// из зарегистрированных ключей пользователя. Транспорт: 401 Unauthorized.
	ErrSSHSignatureMismatch = errors.New("signature does not match")

	// ErrInvalidSSHKey — ключ не разбирается как строка authorized_keys.
	// Транспорт: 400 Bad Request.
	ErrInvalidSSHKey = errors.New("invalid public key")

	// ErrUnknownSSHKey — ключ корректен, но не зарегистрирован.
	// Транспорт эндпоинта проверки ключа: 404.
	ErrUnknownSSHKey = errors.New("key is not registered")
)

// Service описывает бизнес-логику auth-сервиса.
type Service struct {
	storage storage.Storage
	cfg     config.AuthConfig
	rcache  cache.RefreshCache // может быть nil, если кэш не сконфигурирован
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, cfg config.AuthConfig) *Service {
	return &Service{
		storage: storage,
		cfg:     cfg,
	}
}

// SetRefreshCache устанавливает кэш refresh-токенов (опционально).
func (s *Service) SetRefreshCache(c cache.RefreshCache) {
	s.rcache = c
}
