package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dispatchcore/auth-service/internal/models"
	"github.com/dispatchcore/auth-service/internal/pkg/log"
	"github.com/dispatchcore/auth-service/internal/pkg/redact"
	"github.com/dispatchcore/auth-service/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// SSHExchange аутентифицирует пользователя по подписи его SSH-ключом
// и выдаёт ту же пару токенов, что и парольный обмен.
//
// payload — строка вида "<username>:<RFC3339-момент подписи>"; signature —
// base64 от ssh-wire-представления подписи payload (ssh.Marshal(*ssh.Signature)).
// Метка времени обязана попадать в окно ±SSHClockSkew от текущего момента,
// иначе подписанный запрос нельзя переиграть позже.
func (s *Service) SSHExchange(ctx context.Context, payload, signature string) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.ssh.SSHExchange"

	lg := log.From(ctx)

	if payload == "" || signature == "" {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidSSHPayload)
	}

	username, signedAt, err := parseSSHPayload(payload)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	if d := time.Since(signedAt); d > s.cfg.SSHClockSkew || d < -s.cfg.SSHClockSkew {
		lg.Warn("ssh_payload_stale", "op", op, "username", redact.Username(username))
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrStaleSSHPayload)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidSSHPayload)
	}

	var sig ssh.Signature
	if err := ssh.Unmarshal(sigBytes, &sig); err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidSSHPayload)
	}

	user, err := s.storage.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("unknown_user", "op", op, "username", redact.Username(username))
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrUnknownUser)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	keys, err := s.storage.SSHKeysByUsername(ctx, username)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	if !verifyWithAnyKey(keys, []byte(payload), &sig) {
		lg.Warn("ssh_signature_mismatch", "op", op, "username", redact.Username(username))
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrSSHSignatureMismatch)
	}

	tp, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return tp, user.ID, nil
}

// ValidateSSHKey проверяет, что материал ключа разбирается и зарегистрирован.
// Токены не выдаёт; возвращает SHA256-отпечаток найденного ключа.
func (s *Service) ValidateSSHKey(ctx context.Context, keyLine string) (string, error) {
	const op = "service.ssh.ValidateSSHKey"

	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(keyLine))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidSSHKey)
	}

	fingerprint := ssh.FingerprintSHA256(pub)

	if _, err := s.storage.SSHKeyByFingerprint(ctx, fingerprint); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", op, ErrUnknownSSHKey)
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return fingerprint, nil
}

// parseSSHPayload разбирает "<username>:<RFC3339>". Режем по первому
// двоеточию: username его содержать не может, а время — содержит.
func parseSSHPayload(payload string) (string, time.Time, error) {
	idx := strings.Index(payload, ":")
	if idx <= 0 || idx == len(payload)-1 {
		return "", time.Time{}, ErrInvalidSSHPayload
	}

	username := payload[:idx]
	signedAt, err := time.Parse(time.RFC3339, payload[idx+1:])
	if err != nil {
		return "", time.Time{}, ErrInvalidSSHPayload
	}

	return username, signedAt, nil
}

// verifyWithAnyKey сверяет подпись со всеми зарегистрированными ключами.
// Ключ, который перестал разбираться, пропускается: битый материал в БД
// не должен блокировать проверку остальных.
func verifyWithAnyKey(keys []models.SSHKey, data []byte, sig *ssh.Signature) bool {
	for _, k := range keys {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(k.PublicKey))
		if err != nil {
			continue
		}

		if err := pub.Verify(data, sig); err == nil {
			return true
		}
	}

	return false
}
