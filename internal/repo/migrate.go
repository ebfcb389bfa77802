package repo

import (
	"fmt"

	"gorm.io/gorm"

	"licgate/internal/models"
)

// Migrate создаёт таблицы и частичный уникальный индекс «одна активная сессия на лицензию».
// MySQL частичных индексов не умеет — там инвариант держит только блокировка в движке.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.License{}, &models.Session{}, &models.ValidationLog{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	switch db.Dialector.Name() {
	case "postgres", "sqlite":
		err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_license_sessions_active
			ON license_sessions (license_key) WHERE active`).Error
		if err != nil {
			return fmt.Errorf("create active session index: %w", err)
		}
	}
	return nil
}
