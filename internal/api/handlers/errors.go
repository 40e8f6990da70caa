package handlers

import (
	"context"
	"errors"
	"net/http"

	"bess-dispatch/internal/api/models"
	"bess-dispatch/internal/market"
	"bess-dispatch/internal/model"
	"bess-dispatch/internal/optimize"

	"github.com/gin-gonic/gin"
)

func abortWithError(c *gin.Context, status int, code string, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}

// writeRunError maps a failed run onto an HTTP status and error code. A
// cancelled request wins over the solver limit it interrupted; an expired
// solver time limit stays SOLVER_LIMIT.
func writeRunError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "RUN_ERROR"
	switch {
	case errors.Is(err, context.Canceled):
		status, code = http.StatusServiceUnavailable, "CANCELLED"
	case errors.Is(err, market.ErrNoPriceData):
		status, code = http.StatusNotFound, "NO_PRICE_DATA"
	case errors.Is(err, market.ErrMisaligned):
		status, code = http.StatusUnprocessableEntity, "MISALIGNED_PRICES"
	case errors.Is(err, model.ErrInvalidParams):
		status, code = http.StatusBadRequest, "INVALID_BATTERY"
	case errors.Is(err, optimize.ErrInfeasible):
		status, code = http.StatusUnprocessableEntity, "INFEASIBLE"
	case errors.Is(err, optimize.ErrUnbounded):
		status, code = http.StatusUnprocessableEntity, "UNBOUNDED"
	case errors.Is(err, optimize.ErrLimitReached):
		status, code = http.StatusUnprocessableEntity, "SOLVER_LIMIT"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "CANCELLED"
	}

	resp := models.ErrorResponse{Error: models.ErrorDetail{Code: code, Message: err.Error()}}
	var se *optimize.SolveError
	if errors.As(err, &se) {
		resp.Error.Details = map[string]interface{}{
			"solver_status": string(se.Status),
			"nodes":         se.Nodes,
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}
