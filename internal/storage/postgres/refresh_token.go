package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dispatchcore/auth-service/internal/models"
	"github.com/dispatchcore/auth-service/internal/storage"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SaveRefreshToken сохраняет новый refresh-токен в БД.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	query := `
        INSERT INTO refresh_tokens(token_hash, user_id, issued_at, expires_at)
        VALUES ($1, $2, $3, $4)
    `

	_, err := s.db.Exec(ctx, query,
		token.RefreshTokenHash,
		token.UserID,
		token.IssuedAt,
		token.ExpiresAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByHash находит refresh-токен по его хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByHash"

	query := `
        SELECT token_hash, user_id, issued_at, expires_at
        FROM refresh_tokens
        WHERE token_hash = $1
    `

	var token models.RefreshToken
	err := s.db.QueryRow(ctx, query, hash).Scan(
		&token.RefreshTokenHash,
		&token.UserID,
		&token.IssuedAt,
		&token.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &token, nil
}

// RotateRefreshToken атомарно потребляет токен oldHash и сохраняет его замену.
//
// Вся последовательность выполняется в одной транзакции:
//  1. условный DELETE живой строки (expires_at > now) с RETURNING user_id —
//     при гонке за один и тот же токен строку удаляет не более одного вызова,
//     остальные получают 0 строк;
//  2. если строка не удалена — контрольный SELECT различает «нет строки»
//     (ErrNotFound) и «строка просрочена» (ErrExpired; просроченная строка
//     не трогается, её уберёт сборка просроченных);
//  3. SELECT владельца: пользователь мог быть удалён, пока токен жил —
//     тогда ErrOwnerNotFound и откат (откат гарантирует отсутствие
//     частичных состояний);
//  4. INSERT замены next (уникальный конфликт → ErrAlreadyExists, вызывающая
//     сторона перегенерирует секрет);
//  5. попутный DELETE всех просроченных строк.
//
// Любая ошибка откатывает транзакцию целиком: состояние «старый удалён,
// новый не выдан» невозможно.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken) (*models.User, error) {
	const op = "storage.postgres.RotateRefreshToken"

	now := time.Now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const consume = `
		DELETE FROM refresh_tokens
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING user_id
	`

	var userID string
	err = tx.QueryRow(ctx, consume, oldHash, now).Scan(&userID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		// Живой строки нет: различаем отсутствие и просрочку.
		const probe = `
			SELECT expires_at
			FROM refresh_tokens
			WHERE token_hash = $1
		`

		var expiresAt time.Time
		perr := tx.QueryRow(ctx, probe, oldHash).Scan(&expiresAt)
		if perr != nil {
			if errors.Is(perr, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
			}

			return nil, fmt.Errorf("%s: %w", op, perr)
		}

		return nil, fmt.Errorf("%s: %w", op, storage.ErrExpired)
	}

	const owner = `
		SELECT id, username, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user models.User
	err = tx.QueryRow(ctx, owner, userID).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrOwnerNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	const insert = `
		INSERT INTO refresh_tokens(token_hash, user_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`

	// Владелец замены — владелец потреблённой строки; вызывающая сторона
	// его заранее не знает.
	next.UserID = user.ID

	_, err = tx.Exec(ctx, insert,
		next.RefreshTokenHash,
		next.UserID,
		next.IssuedAt,
		next.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	const gc = `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`

	if _, err := tx.Exec(ctx, gc, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// DeleteExpiredTokens удаляет все просроченные токены.
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) error {
	const op = "storage.postgres.DeleteExpiredTokens"

	query := `
        DELETE FROM refresh_tokens
        WHERE expires_at <= $1
    `

	_, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
