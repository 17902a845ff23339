package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dispatchcore/auth-service/internal/models"
	"github.com/dispatchcore/auth-service/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGenerateAccessToken_AndValidate_OK(t *testing.T) {
	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	uid := uuid.New()
	username := "alice"
	now := time.Now().UTC()

	at, err := svc.generateAccessToken(ctx, uid, username, now)
	require.NoError(t, err)

	vUID, vUsername, err := svc.validateAccessToken(at)
	require.NoError(t, err)
	require.Equal(t, uid, vUID)
	require.Equal(t, username, vUsername)
}

func TestValidateAccessToken_WrongAlg_WrongIssuer_WrongAudience(t *testing.T) {
	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	secret := []byte(testCfg().JWTSecret)
	uid := uuid.New()
	now := time.Now().UTC()

	t.Run("wrong alg", func(t *testing.T) {
		claims := jwt.MapClaims{
			"uid":      uid.String(),
			"username": "alice",
			"iss":      testCfg().Issuer,
			"sub":      uid.String(),
			"aud":      testCfg().Audience,
			"exp":      now.Add(testCfg().AccessTokenTTL).Unix(),
			"iat":      now.Unix(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
		signed, err := token.SignedString(secret)
		require.NoError(t, err)

		_, _, err = svc.validateAccessToken(signed)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidAccessToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := jwt.MapClaims{
			"uid":      uid.String(),
			"username": "alice",
			"iss":      "another-issuer",
			"sub":      uid.String(),
			"aud":      testCfg().Audience,
			"exp":      now.Add(testCfg().AccessTokenTTL).Unix(),
			"iat":      now.Unix(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString(secret)
		require.NoError(t, err)

		_, _, err = svc.validateAccessToken(signed)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidAccessToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := jwt.MapClaims{
			"uid":      uid.String(),
			"username": "alice",
			"iss":      testCfg().Issuer,
			"sub":      uid.String(),
			"aud":      []string{"unexpected-aud"},
			"exp":      now.Add(testCfg().AccessTokenTTL).Unix(),
			"iat":      now.Unix(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString(secret)
		require.NoError(t, err)

		_, _, err = svc.validateAccessToken(signed)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidAccessToken)
	})
}

func TestValidateAccessToken_TamperedSignature(t *testing.T) {
	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	at, err := svc.generateAccessToken(context.Background(), uuid.New(), "alice", time.Now().UTC())
	require.NoError(t, err)

	// Подпись от другого секрета.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":      uuid.New().String(),
		"username": "mallory",
		"iss":      testCfg().Issuer,
		"aud":      testCfg().Audience,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, _, err = svc.validateAccessToken(signed)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidAccessToken)

	// Искажённый хвост валидного токена.
	_, _, err = svc.validateAccessToken(at + "x")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestValidateAccessToken_Expired(t *testing.T) {
	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	cfg := svc.cfg
	cfg.AccessTokenTTL = -time.Minute
	svc.cfg = cfg

	at, err := svc.generateAccessToken(context.Background(), uuid.New(), "alice", time.Now().UTC())
	require.NoError(t, err)

	_, _, err = svc.validateAccessToken(at)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestValidateAccessToken_InvalidUIDClaim(t *testing.T) {
	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	secret := []byte(testCfg().JWTSecret)
	now := time.Now().UTC()

	claims := jwt.MapClaims{
		"uid":      "not-a-uuid",
		"username": "alice",
		"iss":      testCfg().Issuer,
		"sub":      "not-a-uuid",
		"aud":      testCfg().Audience,
		"exp":      now.Add(testCfg().AccessTokenTTL).Unix(),
		"iat":      now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, _, err = svc.validateAccessToken(signed)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestAccessTokenExpiry_WithinTTL(t *testing.T) {
	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	at, err := svc.generateAccessToken(context.Background(), uuid.New(), "alice", time.Now().UTC())
	require.NoError(t, err)

	remain, err := svc.AccessTokenExpiry(at)
	require.NoError(t, err)
	require.Greater(t, remain, int64(0))
	require.LessOrEqual(t, remain, int64(svc.cfg.AccessTokenTTL/time.Second))
}

func TestAccessTokenExpiry_Garbage(t *testing.T) {
	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, err := svc.AccessTokenExpiry("garbage")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestGenerateRefreshToken_SavesHash_AndRespectsTTL(t *testing.T) {
	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	uid := uuid.New()

	var saved *models.RefreshToken
	st.
		EXPECT().
		SaveRefreshToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rt *models.RefreshToken) error {
			saved = rt
			return nil
		})

	plain, err := svc.generateRefreshToken(ctx, uid)
	require.NoError(t, err)

	require.Equal(t, refreshHash(plain), saved.RefreshTokenHash)
	require.WithinDuration(t, saved.IssuedAt.Add(svc.cfg.RefreshTokenTTL), saved.ExpiresAt, time.Second)
	require.Equal(t, uid, saved.UserID)
}

func TestGenerateRefreshToken_CollisionRetries_ThenSuccess(t *testing.T) {
	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	gomock.InOrder(
		st.EXPECT().
			SaveRefreshToken(gomock.Any(), gomock.Any()).
			Return(fmtWrap(storage.ErrAlreadyExists)),
		st.EXPECT().
			SaveRefreshToken(gomock.Any(), gomock.Any()).
			Return(nil),
	)

	plain, err := svc.generateRefreshToken(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NotEmpty(t, plain)
}

func TestGenerateRefreshToken_CollisionExceeded_ReturnsErr(t *testing.T) {
	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	for i := 0; i < 5; i++ {
		st.EXPECT().
			SaveRefreshToken(gomock.Any(), gomock.Any()).
			Return(fmtWrap(storage.ErrAlreadyExists))
	}

	_, err := svc.generateRefreshToken(context.Background(), uuid.New())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRefreshTokenCollision)
}

func TestGenerateRefreshToken_StorageOtherError_IsPropagated(t *testing.T) {
	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().
		SaveRefreshToken(gomock.Any(), gomock.Any()).
		Return(errors.New("db down"))

	_, err := svc.generateRefreshToken(context.Background(), uuid.New())
	require.Error(t, err)

	require.NotErrorIs(t, err, ErrRefreshTokenCollision)
}

// fmtWrap - оборачивает ошибку из storage, имитируя fmt.Errorf("%w").
func fmtWrap(err error) error { return fmt.Errorf("wrapped: %w", err) }
