package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dispatchcore/auth-service/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен/ключ).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (username/refresh-token/fingerprint).
	ErrAlreadyExists = errors.New("already exists")
	// ErrExpired — refresh-токен найден, но срок его действия истёк.
	ErrExpired = errors.New("expired")
	// ErrOwnerNotFound — владелец refresh-токена удалён.
	ErrOwnerNotFound = errors.New("owner not found")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByUsername находит пользователя по username.
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// SSHKeyStorage выполняет операции над публичными SSH-ключами пользователей.
type SSHKeyStorage interface {
	// SaveSSHKey регистрирует новый ключ.
	SaveSSHKey(ctx context.Context, key *models.SSHKey) error
	// SSHKeysByUsername возвращает все ключи пользователя.
	SSHKeysByUsername(ctx context.Context, username string) ([]models.SSHKey, error)
	// SSHKeyByFingerprint находит ключ по SHA256-отпечатку.
	SSHKeyByFingerprint(ctx context.Context, fingerprint string) (*models.SSHKey, error)
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
//
// Семантика «одноразовости» построена на присутствии строки: выдача — INSERT,
// потребление — DELETE. Промежуточных состояний нет.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-token в БД.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RotateRefreshToken в одной транзакции потребляет (удаляет) токен
	// с хэшем oldHash, проверяет владельца, сохраняет замену next и удаляет
	// просроченные строки. Возвращает владельца токена.
	//
	// Ошибки:
	//   - ErrNotFound — строка с oldHash отсутствует;
	//   - ErrExpired — строка есть, но срок истёк (строка остаётся до GC);
	//   - ErrOwnerNotFound — владелец токена удалён;
	//   - ErrAlreadyExists — хэш next уже занят (коллизия, можно повторить).
	//
	// При конкурентных вызовах с одним oldHash успешен не более чем один:
	// потребление выполняется условным DELETE, остальные видят отсутствие строки.
	RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken) (*models.User, error)
	// DeleteExpiredTokens удаляет все просроченные токены.
	DeleteExpiredTokens(ctx context.Context, now time.Time) error
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	SSHKeyStorage
	RefreshTokenStorage
	Close()
}
