package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hostlink-platform/internal/pricing"
	"hostlink-platform/internal/rtc"
	"hostlink-platform/internal/signaling"
)

// Response envelope. Clients branch on success; message carries the
// human-readable failure reason.

func ok(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

// failErr maps domain errors onto the HTTP taxonomy.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, signaling.ErrInvalidArgument),
		errors.Is(err, pricing.ErrInvalidRateReq):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, signaling.ErrForbidden):
		fail(c, http.StatusForbidden, "not allowed")
	case errors.Is(err, signaling.ErrNotFound),
		errors.Is(err, signaling.ErrAlreadyProcessed),
		errors.Is(err, pricing.ErrRateNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, signaling.ErrInvalidState),
		errors.Is(err, signaling.ErrHostBusy):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, rtc.ErrUnavailable):
		fail(c, http.StatusBadGateway, "credential service unavailable")
	default:
		fail(c, http.StatusInternalServerError, "internal error")
	}
}
