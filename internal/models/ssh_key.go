package models

import (
	"time"

	"github.com/google/uuid"
)

// SSHKey — зарегистрированный публичный ключ пользователя.
//
// PublicKey хранится в формате authorized_keys ("ssh-ed25519 AAAA... comment");
// Fingerprint — SHA256-отпечаток в нотации OpenSSH, уникален в пределах таблицы.
type SSHKey struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Fingerprint string
	PublicKey   string
	AddedAt     time.Time
}
