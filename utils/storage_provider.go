package utils

import (
	"os"
	"strings"
)

const StorageProviderGCS = "gcs"

// GetStorageProvider reads STORAGE_PROVIDER; only gcs can sign uploads.
func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderGCS
	}
	return provider
}

func GetStorageBucket() string {
	return strings.TrimSpace(os.Getenv("GCS_BUCKET"))
}
