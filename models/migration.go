package models

import (
	"log"

	"github.com/vastramandir/storefront_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{}, &ProductVariant{}, &VariantStock{},
		&Order{}, &OrderItem{},
		&AdminActionLog{}, &AdminUser{}, &Setting{},
		&NotificationOutbox{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
