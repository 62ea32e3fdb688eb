package database

import (
	"fmt"

	"github.com/developer-overheid-nl/don-package-register/pkg/registry/models"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Connect opens the metadata store and migrates the schema. TranslateError
// is required so a commit-time uniqueness violation surfaces as
// gorm.ErrDuplicatedKey instead of a driver-specific error.
func Connect(connStr string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.Package{}, &models.Version{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}
