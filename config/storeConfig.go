package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// StoreConfig holds merchant-facing settings that are not infrastructure.
type StoreConfig struct {
	ShopName          string          `mapstructure:"shop_name"`
	ExpediteSurcharge decimal.Decimal `mapstructure:"-"`
	MerchantWhatsApp  string          `mapstructure:"merchant_whatsapp"`
	PhoneRegion       string          `mapstructure:"phone_region"`
	LedgerCallTimeout time.Duration   `mapstructure:"ledger_call_timeout"`
	CartTTL           time.Duration   `mapstructure:"-"`
	MaxUploadImages   int             `mapstructure:"max_upload_images"`
	LowStockThreshold int             `mapstructure:"low_stock_threshold"`
}

var (
	storeConfig   *StoreConfig
	storeConfigMu sync.Mutex
)

func newStoreViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("storefront")
	v.SetConfigType("yaml")
	v.AddConfigPath("./")
	v.AddConfigPath("./deploy/")
	v.AddConfigPath("/etc/storefront/")

	v.SetDefault("shop_name", "Vastra Mandir")
	v.SetDefault("expedite_surcharge", "50")
	v.SetDefault("merchant_whatsapp", "")
	v.SetDefault("phone_region", "IN")
	v.SetDefault("ledger_call_timeout", "5s")
	v.SetDefault("cart_ttl_hours", 72)
	v.SetDefault("max_upload_images", 5)
	v.SetDefault("low_stock_threshold", 5)

	// EXPEDITE_SURCHARGE, MERCHANT_WHATSAPP, ... override the file.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadStoreConfig reads storefront.yaml (optional) with env overrides.
func LoadStoreConfig() (*StoreConfig, error) {
	v := newStoreViper()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read store config: %w", err)
		}
	}

	var cfg StoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store config: %w", err)
	}

	surcharge, err := decimal.NewFromString(strings.TrimSpace(v.GetString("expedite_surcharge")))
	if err != nil {
		return nil, fmt.Errorf("invalid expedite_surcharge: %w", err)
	}
	if surcharge.IsNegative() {
		return nil, errors.New("expedite_surcharge must not be negative")
	}
	cfg.ExpediteSurcharge = surcharge
	cfg.CartTTL = time.Duration(v.GetInt("cart_ttl_hours")) * time.Hour
	if cfg.LedgerCallTimeout <= 0 {
		cfg.LedgerCallTimeout = 5 * time.Second
	}
	if cfg.MaxUploadImages <= 0 {
		cfg.MaxUploadImages = 5
	}
	return &cfg, nil
}

// GetStoreConfig lazily loads the store config once; a broken file falls back to defaults.
func GetStoreConfig() *StoreConfig {
	storeConfigMu.Lock()
	defer storeConfigMu.Unlock()
	if storeConfig != nil {
		return storeConfig
	}
	cfg, err := LoadStoreConfig()
	if err != nil {
		LogError(GetLogger(), "config", "GetStoreConfig", "LoadStoreConfig", nil, err)
		cfg = DefaultStoreConfig()
	}
	storeConfig = cfg
	return storeConfig
}

// SetStoreConfig replaces the cached config (tests, CLI flags).
func SetStoreConfig(cfg *StoreConfig) {
	storeConfigMu.Lock()
	defer storeConfigMu.Unlock()
	storeConfig = cfg
}

func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		ShopName:          "Vastra Mandir",
		ExpediteSurcharge: decimal.NewFromInt(50),
		PhoneRegion:       "IN",
		LedgerCallTimeout: 5 * time.Second,
		CartTTL:           72 * time.Hour,
		MaxUploadImages:   5,
		LowStockThreshold: 5,
	}
}
