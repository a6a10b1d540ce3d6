package database

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"h3-server/services/tour-api/internal/infrastructure/database/entities"
)

// AutoMigrate applies database schema changes.
func AutoMigrate(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&entities.UploadSession{},
		&entities.ProcessingJob{},
		&entities.Tour{},
		&entities.SlugRedirect{},
	); err != nil {
		return err
	}
	log.Info().Msg("applied tour pipeline migrations")
	return nil
}
