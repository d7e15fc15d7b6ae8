package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
	"github.com/vastramandir/storefront_backend/workflow"
)

type apiError struct {
	status int
	code   string
}

// classifyError maps a returned error onto its HTTP status and machine code.
func classifyError(err error) apiError {
	switch {
	case errors.Is(err, utils.ErrUnauthorized), errors.Is(err, models.ErrInvalidCredentials):
		return apiError{http.StatusUnauthorized, "unauthorized"}
	case errors.Is(err, utils.ErrInvalidSelection):
		return apiError{http.StatusBadRequest, "invalid_selection"}
	case errors.Is(err, utils.ErrInsufficientStock):
		return apiError{http.StatusConflict, "insufficient_stock"}
	case errors.Is(err, utils.ErrStockConflict):
		return apiError{http.StatusConflict, "stock_conflict"}
	case errors.Is(err, utils.ErrVariantNotFound):
		return apiError{http.StatusConflict, "variant_not_found"}
	case errors.Is(err, utils.ErrInvalidTransition):
		return apiError{http.StatusConflict, "invalid_transition"}
	case errors.Is(err, workflow.ErrIdempotencyInProgress), errors.Is(err, utils.ErrLockNotObtained):
		return apiError{http.StatusConflict, "in_progress"}
	case errors.Is(err, utils.ErrOrderPersistenceFailed):
		return apiError{http.StatusServiceUnavailable, "order_persistence_failed"}
	case errors.Is(err, utils.ErrorRecordNotFound):
		return apiError{http.StatusNotFound, "not_found"}
	case errors.Is(err, utils.ErrStorageFault):
		return apiError{http.StatusInternalServerError, "storage_fault"}
	}
	return apiError{http.StatusInternalServerError, "internal"}
}

func respondError(c *gin.Context, err error) {
	e := classifyError(err)
	body := gin.H{"error": err.Error(), "code": e.code}

	var stockErr *utils.StockError
	if errors.As(err, &stockErr) && stockErr.Line >= 0 {
		body["line"] = stockErr.Line
	}
	var selErr *utils.SelectionError
	if errors.As(err, &selErr) && selErr.Line >= 0 {
		body["line"] = selErr.Line
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		body["fields"] = utils.ProcessValidationErrors(validationErrs)
		body["error"] = "please fill in all required fields"
	}
	if e.status >= http.StatusInternalServerError {
		_ = c.Error(err)
		if e.code == "storage_fault" || e.code == "internal" {
			body["error"] = "something went wrong, please try again"
		}
	}
	c.AbortWithStatusJSON(e.status, body)
}
