package models

import (
	"github.com/bariqhq/bnpl_backend/config"
)

// MigrateDatabase creates or updates the schema. Called once at startup.
func MigrateDatabase() error {
	db := config.GetDB()
	return db.AutoMigrate(
		&Customer{},
		&Merchant{},
		&Branch{},
		&Transaction{},
		&TransactionReturn{},
		&Payment{},
		&Settlement{},
		&Notification{},
		&IdempotencyKey{},
	)
}
