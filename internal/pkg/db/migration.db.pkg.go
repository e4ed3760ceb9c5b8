package database

import (
	"fmt"

	"storefront-checkout/internal/common/models"
	"storefront-checkout/internal/pkg/logger"
)

func (db *Database) RunMigrations() error {
	logger.Info.Println("Starting database migrations...")

	models := []interface{}{
		&models.Transaction{},
	}

	for _, model := range models {
		logger.Info.Printf("Migrating model: %T", model)
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	if err := db.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logger.Info.Println("Database migrations completed successfully")
	return nil
}

// createIndexes adds the composite indexes gorm tags cannot express portably.
func (db *Database) createIndexes() error {
	indexes := map[string][]string{
		"session_status": {"session_id", "status"},
		"status_expires": {"status", "expires_at"},
	}

	m := db.Migrator()
	for name, columns := range indexes {
		index := "idx_checkout_transactions_" + name
		if m.HasIndex(&models.Transaction{}, index) {
			continue
		}
		query := fmt.Sprintf("CREATE INDEX %s ON checkout_transactions(%s, %s)", index, columns[0], columns[1])
		if err := db.Exec(query).Error; err != nil {
			logger.Error.Printf("Error creating index: %s, Error: %v", query, err)
			return err
		}
	}

	return nil
}
