package workflow

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/vastramandir/storefront_backend/models"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("a request with this idempotency key is still in progress")

// a STARTED row older than this belongs to a crashed attempt and may be taken over
const idempotencyStaleAfter = 5 * time.Minute

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginIdempotency inserts STARTED. If a SUCCEEDED row exists it is returned so the caller can
// replay its result instead of running again.
func BeginIdempotency(tx *gorm.DB, handlerName, messageId string) (*models.IdempotencyKey, error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return nil, nil
	} else if !isDuplicateKeyErr(err) {
		return nil, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&existing).Error; err != nil {
		return nil, err
	}

	if existing.Status == models.IdempotencyStatusSucceeded {
		return &existing, nil
	}
	return nil, claimIdempotencyKey(tx, &existing, time.Now())
}

// claimIdempotencyKey restarts a FAILED or stale STARTED row. The update is conditional on the
// state that was read, so of two retries racing for the same key only one gets to run.
func claimIdempotencyKey(tx *gorm.DB, existing *models.IdempotencyKey, now time.Time) error {
	cutoff := now.Add(-idempotencyStaleAfter)
	q := tx.Model(&models.IdempotencyKey{}).Where("id = ?", existing.ID)
	switch existing.Status {
	case models.IdempotencyStatusFailed:
		q = q.Where("status = ?", models.IdempotencyStatusFailed)
	case models.IdempotencyStatusStarted:
		if existing.UpdatedAt.After(cutoff) {
			return ErrIdempotencyInProgress
		}
		q = q.Where("status = ? AND updated_at < ?", models.IdempotencyStatusStarted, cutoff)
	default:
		return ErrIdempotencyInProgress
	}
	res := q.Updates(map[string]interface{}{
		"status":     models.IdempotencyStatusStarted,
		"last_error": nil,
		"result_ref": nil,
		"updated_at": now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIdempotencyInProgress
	}
	return nil
}

func MarkIdempotencySucceeded(tx *gorm.DB, handlerName, messageId string, resultRef string) error {
	updates := map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}
	if resultRef != "" {
		updates["result_ref"] = &resultRef
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(updates).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
