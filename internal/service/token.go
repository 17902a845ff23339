package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dispatchcore/auth-service/internal/cache"
	"github.com/dispatchcore/auth-service/internal/models"
	"github.com/dispatchcore/auth-service/internal/pkg/log"
	"github.com/dispatchcore/auth-service/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type accessClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// generateAccessToken генерирует access-токен.
//
// Кодек без состояния: токен самодостаточен, на сервере по нему ничего
// не хранится. Любой процесс с тем же секретом подписи выпустит и проверит
// совместимый токен.
func (s *Service) generateAccessToken(ctx context.Context, userID uuid.UUID, username string, now time.Time) (string, error) {
	const op = "service.token.generateAccessToken"

	lg := log.From(ctx)

	claims := accessClaims{
		UserID:   userID.String(),
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// validateAccessToken валидирует access-токен: подпись, issuer/audience
// и явная проверка срока действия (просроченный exp отклоняется независимо
// от валидности подписи).
func (s *Service) validateAccessToken(tokenStr string) (uuid.UUID, string, error) {
	const op = "service.token.validateAccessToken"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidAccessToken)
			}

			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidAccessToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidAccessToken)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidAccessToken)
	}

	return uid, claims.Username, nil
}

// AccessTokenExpiry возвращает остаток срока действия access-токена
// в целых секундах — значение expires_in конверта ответа.
func (s *Service) AccessTokenExpiry(tokenStr string) (int64, error) {
	const op = "service.token.AccessTokenExpiry"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidAccessToken)
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidAccessToken)
	}

	remain := int64(time.Until(exp.Time) / time.Second)
	if remain < 0 {
		remain = 0
	}

	return remain, nil
}

// newRefreshToken выпускает случайный секрет и строку хранилища для него.
// Секрет — 32 байта crypto/rand в base64url; в БД попадает только sha256-хэш.
func (s *Service) newRefreshToken() (string, *models.RefreshToken, error) {
	const op = "service.token.newRefreshToken"

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	plain := base64.RawURLEncoding.EncodeToString(b)

	now := time.Now().UTC()

	return plain, &models.RefreshToken{
		RefreshTokenHash: hashRefreshToken(plain),
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.cfg.RefreshTokenTTL),
	}, nil
}

// generateRefreshToken создает и сохраняет новый refresh-токен.
// Уникальность хэша гарантирует хранилище; на невероятную коллизию
// отвечаем перегенерацией секрета.
func (s *Service) generateRefreshToken(ctx context.Context, userID uuid.UUID) (string, error) {
	const (
		op          = "service.token.generateRefreshToken"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		plain, token, err := s.newRefreshToken()
		if err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}
		token.UserID = userID

		if err := s.storage.SaveRefreshToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}

		s.cacheIssued(ctx, token)

		return plain, nil
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return "", fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// cacheIssued кладёт свежевыданный токен в кэш (best-effort).
func (s *Service) cacheIssued(ctx context.Context, token *models.RefreshToken) {
	if s.rcache == nil {
		return
	}

	entry := &cache.RefreshEntry{
		UserID:    token.UserID,
		ExpiresAt: token.ExpiresAt,
	}
	if err := s.rcache.Set(ctx, token.RefreshTokenHash, entry, time.Until(token.ExpiresAt)); err != nil {
		log.From(ctx).Warn("refresh_cache_set_failed", "err", err.Error())
	}
}

// hashRefreshToken — sha256 → base64url; в таком виде токен хранится в БД.
func hashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
