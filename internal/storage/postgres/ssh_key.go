package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dispatchcore/auth-service/internal/models"
	"github.com/dispatchcore/auth-service/internal/storage"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SaveSSHKey регистрирует новый публичный ключ пользователя.
func (s *Storage) SaveSSHKey(ctx context.Context, key *models.SSHKey) error {
	const op = "storage.postgres.SaveSSHKey"

	query := `
        INSERT INTO ssh_keys(id, user_id, name, fingerprint, public_key, added_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `

	_, err := s.db.Exec(ctx, query,
		key.ID,
		key.UserID,
		key.Name,
		key.Fingerprint,
		key.PublicKey,
		key.AddedAt,
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

// SSHKeysByUsername возвращает все зарегистрированные ключи пользователя.
func (s *Storage) SSHKeysByUsername(ctx context.Context, username string) ([]models.SSHKey, error) {
	const op = "storage.postgres.SSHKeysByUsername"

	query := `
        SELECT k.id, k.user_id, k.name, k.fingerprint, k.public_key, k.added_at
        FROM ssh_keys k
        JOIN users u ON u.id = k.user_id
        WHERE u.username = $1
        ORDER BY k.added_at
    `

	rows, err := s.db.Query(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var keys []models.SSHKey
	for rows.Next() {
		var k models.SSHKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.Fingerprint, &k.PublicKey, &k.AddedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return keys, nil
}

// SSHKeyByFingerprint находит ключ по SHA256-отпечатку.
func (s *Storage) SSHKeyByFingerprint(ctx context.Context, fingerprint string) (*models.SSHKey, error) {
	const op = "storage.postgres.SSHKeyByFingerprint"

	query := `
        SELECT id, user_id, name, fingerprint, public_key, added_at
        FROM ssh_keys
        WHERE fingerprint = $1
    `

	var k models.SSHKey
	err := s.db.QueryRow(ctx, query, fingerprint).Scan(
		&k.ID,
		&k.UserID,
		&k.Name,
		&k.Fingerprint,
		&k.PublicKey,
		&k.AddedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &k, nil
}
