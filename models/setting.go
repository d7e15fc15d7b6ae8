package models

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const SettingKeyUpiId = "upi_id"

var upiIdPattern = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z]{2,64}$`)

// settingValidators lists the keys that may be written, with their format check.
var settingValidators = map[string]func(string) error{
	SettingKeyUpiId: func(v string) error {
		if !upiIdPattern.MatchString(v) {
			return utils.NewSelectionError(-1, "invalid UPI id %q", v)
		}
		return nil
	},
}

type Setting struct {
	Key       string    `gorm:"primaryKey;size:100" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func IsKnownSetting(key string) bool {
	_, ok := settingValidators[key]
	return ok
}

// GetSetting returns ErrorRecordNotFound when the key was never set.
func GetSetting(ctx context.Context, key string) (*Setting, error) {
	cached, err := utils.RetrieveRedis[Setting](key)
	if err == nil && cached != nil {
		return cached, nil
	}

	var setting Setting
	err = config.GetDB().WithContext(ctx).Where("`key` = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, utils.WrapStorageFault("get setting", err)
	}
	if err := utils.StoreRedis(&setting, key); err != nil {
		config.LogError(config.GetLogger(), "models", "GetSetting", "StoreRedis", key, err)
	}
	return &setting, nil
}

func SetSetting(ctx context.Context, key string, value string) (*Setting, error) {
	validate, ok := settingValidators[key]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	value = strings.TrimSpace(value)
	if err := validate(value); err != nil {
		return nil, err
	}

	setting := Setting{Key: key, Value: value}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&setting).Error; err != nil {
			return utils.WrapStorageFault("set setting", err)
		}
		return createAdminActionLog(tx, ActionKindSettingUpdated, map[string]interface{}{
			"key":   key,
			"value": value,
		})
	})
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Setting](key); err != nil {
		config.LogError(config.GetLogger(), "models", "SetSetting", "RemoveRedisItem", key, err)
	}
	return &setting, nil
}
