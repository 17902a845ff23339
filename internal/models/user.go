package models

import (
	"time"

	"github.com/google/uuid"
)

// User — учётная запись API-клиента.
// Создаётся и изменяется средствами управления аккаунтами вне этого сервиса;
// ядро аутентификации читает её при проверке учётных данных.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
