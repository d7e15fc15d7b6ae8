package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vastramandir/storefront_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openIdempotencyDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.IdempotencyKey{}))
	return db
}

func seedKey(t *testing.T, db *gorm.DB, status models.IdempotencyStatus, updatedAt time.Time) models.IdempotencyKey {
	t.Helper()
	key := models.IdempotencyKey{HandlerName: "checkout", MessageId: "k-1", Status: status, UpdatedAt: updatedAt}
	require.NoError(t, db.Create(&key).Error)
	var read models.IdempotencyKey
	require.NoError(t, db.First(&read, key.ID).Error)
	return read
}

func keyStatus(t *testing.T, db *gorm.DB, id int) models.IdempotencyKey {
	t.Helper()
	var key models.IdempotencyKey
	require.NoError(t, db.First(&key, id).Error)
	return key
}

func TestBeginIdempotencyInsertsStarted(t *testing.T) {
	db := openIdempotencyDB(t)
	existing, err := BeginIdempotency(db, "checkout", "k-9")
	require.NoError(t, err)
	assert.Nil(t, existing)

	require.NoError(t, MarkIdempotencySucceeded(db, "checkout", "k-9", "42"))
	var key models.IdempotencyKey
	require.NoError(t, db.Where("handler_name = ? AND message_id = ?", "checkout", "k-9").First(&key).Error)
	assert.Equal(t, models.IdempotencyStatusSucceeded, key.Status)
	require.NotNil(t, key.ResultRef)
	assert.Equal(t, "42", *key.ResultRef)
}

func TestClaimFailedKeyOnlyOnce(t *testing.T) {
	db := openIdempotencyDB(t)
	now := time.Now()
	failed := seedKey(t, db, models.IdempotencyStatusFailed, now.Add(-time.Minute))
	require.NoError(t, MarkIdempotencyFailed(db, "checkout", "k-1", errors.New("stock moved")))

	// both retries read the same FAILED row before either writes
	first := failed
	second := failed
	require.NoError(t, claimIdempotencyKey(db, &first, now))
	assert.ErrorIs(t, claimIdempotencyKey(db, &second, now), ErrIdempotencyInProgress)

	key := keyStatus(t, db, failed.ID)
	assert.Equal(t, models.IdempotencyStatusStarted, key.Status)
	assert.Nil(t, key.LastError)
}

func TestClaimStaleStartedKeyOnlyOnce(t *testing.T) {
	db := openIdempotencyDB(t)
	now := time.Now()
	stale := seedKey(t, db, models.IdempotencyStatusStarted, now.Add(-2*idempotencyStaleAfter))

	first := stale
	second := stale
	require.NoError(t, claimIdempotencyKey(db, &first, now))
	assert.ErrorIs(t, claimIdempotencyKey(db, &second, now.Add(time.Second)), ErrIdempotencyInProgress)
	assert.Equal(t, models.IdempotencyStatusStarted, keyStatus(t, db, stale.ID).Status)
}

func TestClaimFreshStartedKeyIsInProgress(t *testing.T) {
	db := openIdempotencyDB(t)
	now := time.Now()
	fresh := seedKey(t, db, models.IdempotencyStatusStarted, now.Add(-time.Minute))

	assert.ErrorIs(t, claimIdempotencyKey(db, &fresh, now), ErrIdempotencyInProgress)
}
