package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — одна невыданная повторно сессия обновления.
//
// В БД хранится только sha256-хэш секрета (RefreshTokenHash): строка в таблице
// существует ровно до тех пор, пока токен не использован и не удалён сборкой
// просроченных. Потребление токена — это удаление строки, отдельного флага
// «использован» нет.
type RefreshToken struct {
	RefreshTokenHash string
	UserID           uuid.UUID
	IssuedAt         time.Time
	ExpiresAt        time.Time
}
