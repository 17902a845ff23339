package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dispatchcore/auth-service/internal/cache"
	"github.com/dispatchcore/auth-service/internal/models"
	"github.com/dispatchcore/auth-service/internal/pkg/log"
	"github.com/dispatchcore/auth-service/internal/pkg/redact"
	"github.com/dispatchcore/auth-service/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// CredentialsExchange обменивает пару username+password на пару токенов.
func (s *Service) CredentialsExchange(ctx context.Context, username, password string) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.auth.CredentialsExchange"

	if username == "" || password == "" {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrMissingCredentials)
	}

	user, err := s.verifyCredentials(ctx, username, password)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	tp, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return tp, user.ID, nil
}

// RefreshExchange обменивает действующий refresh-токен на новую пару токенов,
// одноразово потребляя предъявленный.
//
// Потребление и выдача замены выполняются одной транзакцией хранилища
// (storage.RotateRefreshToken): при конкурентных запросах с одним и тем же
// токеном успешен не более чем один, остальные получают ErrInvalidRefreshToken.
// Попутная сборка просроченных строк происходит там же и не может замаскировать
// успешную ротацию посторонней ошибкой.
func (s *Service) RefreshExchange(ctx context.Context, refreshToken string) (*models.TokenPair, uuid.UUID, error) {
	const (
		op          = "service.auth.RefreshExchange"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	if refreshToken == "" {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}

	oldHash := hashRefreshToken(refreshToken)

	// Fail-fast по кэшу: срок жизни токена неизменен с момента выдачи,
	// поэтому просроченной записи можно верить без похода в БД.
	if s.rcache != nil {
		if e, ok, cerr := s.rcache.Get(ctx, oldHash); cerr == nil && ok {
			if time.Now().UTC().After(e.ExpiresAt) {
				lg.Warn("refresh_expired_cached", "op", op, "token", redact.Token())
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
			}
		}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		plain, next, err := s.newRefreshToken()
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		user, err := s.storage.RotateRefreshToken(ctx, oldHash, next)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrAlreadyExists):
				// Коллизия хэша замены — перегенерировать и повторить.
				continue
			case errors.Is(err, storage.ErrNotFound):
				lg.Warn("refresh_not_found", "op", op, "token", redact.Token())
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
			case errors.Is(err, storage.ErrExpired):
				lg.Warn("refresh_expired", "op", op, "token", redact.Token())
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
			case errors.Is(err, storage.ErrOwnerNotFound):
				lg.Warn("refresh_owner_gone", "op", op)
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
			default:
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
			}
		}

		now := time.Now().UTC()

		accessToken, err := s.generateAccessToken(ctx, user.ID, user.Username, now)
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		s.cacheAfterRotation(ctx, oldHash, next)

		return &models.TokenPair{
			AccessToken:     accessToken,
			RefreshToken:    plain,
			AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		}, user.ID, nil
	}

	lg.Error("refresh_collision_exceeded", "op", op)

	return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// CheckAccessToken проверяет access-токен и возвращает данные владельца.
// Используется эндпоинтом самопроверки и middleware.
func (s *Service) CheckAccessToken(ctx context.Context, accessToken string) (uuid.UUID, string, error) {
	const op = "service.auth.CheckAccessToken"

	uid, username, err := s.validateAccessToken(accessToken)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return uid, username, nil
}

// verifyCredentials находит пользователя и сверяет пароль со связанным хэшем.
// Отсутствие пользователя и несовпадение пароля различимы для аудита;
// транспорт на оба отвечает 401.
func (s *Service) verifyCredentials(ctx context.Context, username, password string) (*models.User, error) {
	const op = "service.auth.verifyCredentials"

	lg := log.From(ctx)

	user, err := s.storage.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("unknown_user", "op", op, "username", redact.Username(username))
			return nil, fmt.Errorf("%s: %w", op, ErrUnknownUser)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, password) {
		lg.Warn("password_mismatch", "op", op, "username", redact.Username(username))
		return nil, fmt.Errorf("%s: %w", op, ErrPasswordMismatch)
	}

	return user, nil
}

// issueTokens выпускает новую пару access+refresh для прошедшего проверку
// пользователя. Единственная точка выдачи: через неё проходят все способы
// аутентификации, чем и обеспечивается одинаковый конверт и TTL-политика.
func (s *Service) issueTokens(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	const op = "service.auth.issueTokens"

	now := time.Now().UTC()

	accessToken, err := s.generateAccessToken(ctx, user.ID, user.Username, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	plain, err := s.generateRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    plain,
		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}, nil
}

// cacheAfterRotation поддерживает кэш в согласии с БД после успешной ротации.
// Ошибки кэша не влияют на результат: источник истины — Postgres.
func (s *Service) cacheAfterRotation(ctx context.Context, oldHash string, next *models.RefreshToken) {
	if s.rcache == nil {
		return
	}

	lg := log.From(ctx)

	if err := s.rcache.Delete(ctx, oldHash); err != nil {
		lg.Warn("refresh_cache_delete_failed", "err", err.Error())
	}

	entry := &cache.RefreshEntry{
		UserID:    next.UserID,
		ExpiresAt: next.ExpiresAt,
	}
	if err := s.rcache.Set(ctx, next.RefreshTokenHash, entry, time.Until(next.ExpiresAt)); err != nil {
		lg.Warn("refresh_cache_set_failed", "err", err.Error())
	}
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword хэширует пароль с помощью bcrypt. Используется инструментами
// заведения пользователей и тестами; сам сервис пароли не сохраняет.
func HashPassword(password string) (string, error) {
	const op = "service.auth.HashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}
