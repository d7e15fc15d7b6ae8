package utils

import (
	"context"
	"errors"

	"github.com/vastramandir/storefront_backend/config"
	"gorm.io/gorm"
)

/* DB fetching */

// fetch model from db
// (may return RecordNotFound)
func FetchSingleModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {
	db := config.GetDB()
	if db == nil {
		return nil, WrapStorageFault("fetch "+GetTypeName[T](), errors.New("database not ready"))
	}
	dbCtx := db.WithContext(ctx)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrorRecordNotFound
	}
	if err != nil {
		return nil, WrapStorageFault("fetch "+GetTypeName[T](), err)
	}
	return &result, nil
}
