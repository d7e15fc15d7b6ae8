package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseDSN(t *testing.T) {
	t.Setenv("DB_USER", "shop")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "storefront")

	dsn := DatabaseDSN()
	assert.Contains(t, dsn, "shop:s3cret@tcp(127.0.0.1:3306)/storefront?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "multiStatements=true")

	t.Setenv("DB_HOST", "/cloudsql/proj:region:db")
	assert.Contains(t, DatabaseDSN(), "@unix(/cloudsql/proj:region:db)/storefront?")
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, RetryBackoff(1))
	assert.Equal(t, 16*time.Second, RetryBackoff(4))
	assert.Equal(t, 30*time.Second, RetryBackoff(9))
}
