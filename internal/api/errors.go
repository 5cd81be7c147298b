package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/depot/services/bagtrack/internal/service"
)

// ErrorResponse defines the structure of an error response
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WriteError maps a service error onto an HTTP response. Validation
// failures are 400, business-rule conflicts 409, contention 503 with a
// Retry-After hint, and anything unrecognized a logged 500.
func WriteError(c *gin.Context, err error) {
	var linked *service.ChildAlreadyLinkedError
	var capacity *service.ParentAtCapacityError
	var otherBill *service.ParentOnOtherBillError

	switch {
	case errors.Is(err, service.ErrInvalidQR),
		errors.Is(err, service.ErrInvalidActor),
		errors.Is(err, service.ErrInvalidBill),
		errors.Is(err, service.ErrKindMismatch):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "VALIDATION_ERROR"})

	case errors.As(err, &linked):
		c.JSON(http.StatusConflict, gin.H{
			"message":         err.Error(),
			"code":            "CHILD_ALREADY_LINKED",
			"existing_parent": linked.ExistingParentQR,
		})

	case errors.As(err, &capacity):
		c.JSON(http.StatusConflict, gin.H{
			"message":  err.Error(),
			"code":     "PARENT_AT_CAPACITY",
			"capacity": capacity.Capacity,
		})

	case errors.As(err, &otherBill):
		c.JSON(http.StatusConflict, gin.H{
			"message": err.Error(),
			"code":    "PARENT_ON_OTHER_BILL",
			"bill":    otherBill.BillNumber,
		})

	case errors.Is(err, service.ErrBillClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error(), Code: "BILL_CLOSED"})

	case errors.Is(err, service.ErrBillAlreadyClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error(), Code: "BILL_ALREADY_CLOSED"})

	case errors.Is(err, service.ErrBillAtCapacity):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error(), Code: "BILL_AT_CAPACITY"})

	case errors.Is(err, service.ErrBillExists):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error(), Code: "BILL_EXISTS"})

	case errors.Is(err, service.ErrBagNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error(), Code: "BAG_NOT_FOUND"})

	case errors.Is(err, service.ErrBillNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error(), Code: "BILL_NOT_FOUND"})

	case errors.Is(err, service.ErrNothingToUndo):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error(), Code: "NOTHING_TO_UNDO"})

	case errors.Is(err, service.ErrAlreadyReversed):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error(), Code: "ALREADY_REVERSED"})

	case errors.Is(err, service.ErrBusy):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: err.Error(), Code: "BUSY"})

	default:
		logrus.WithError(err).Error("Unhandled error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error", Code: "INTERNAL_ERROR"})
	}
}
