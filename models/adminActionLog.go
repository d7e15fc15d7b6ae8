package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
	"gorm.io/gorm"
)

// AdminActionLog is the append-only audit trail of privileged actions.
type AdminActionLog struct {
	ID        int        `gorm:"primary_key" json:"id"`
	Actor     string     `gorm:"size:100;not null" json:"actor"`
	Kind      ActionKind `gorm:"size:50;not null;index" json:"kind"`
	Detail    string     `gorm:"type:text" json:"detail"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// createAdminActionLog must run on the transaction of the mutation it records.
// The actor comes from the session stored in the transaction's context.
func createAdminActionLog(tx *gorm.DB, kind ActionKind, detail interface{}) error {
	d, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	entry := AdminActionLog{
		Actor:  utils.ActorFromContext(tx.Statement.Context),
		Kind:   kind,
		Detail: string(d),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return utils.WrapStorageFault("write admin action log", err)
	}
	return nil
}

// ListAdminActionLogs returns newest first. beforeId pages backwards.
func ListAdminActionLogs(ctx context.Context, limit int, beforeId int, kind string) ([]*AdminActionLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	dbCtx := config.GetDB().WithContext(ctx).Model(&AdminActionLog{})
	if beforeId > 0 {
		dbCtx = dbCtx.Where("id < ?", beforeId)
	}
	if kind != "" {
		dbCtx = dbCtx.Where("kind = ?", kind)
	}
	var entries []*AdminActionLog
	if err := dbCtx.Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, utils.WrapStorageFault("list admin action logs", err)
	}
	return entries, nil
}
