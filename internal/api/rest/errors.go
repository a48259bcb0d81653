package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenDO96/internal/auth"
	"github.com/KevinKickass/OpenDO96/internal/devices"
	"github.com/KevinKickass/OpenDO96/internal/storage"
	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"github.com/gin-gonic/gin"
)

// errorStatus maps domain errors to HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, usbdo96.ErrOutOfRange):
		return http.StatusBadRequest, "CHANNEL_OUT_OF_RANGE"
	case errors.Is(err, usbdo96.ErrConflictingRequest):
		return http.StatusBadRequest, "CONFLICTING_REQUEST"
	case errors.Is(err, usbdo96.ErrNotOpen):
		return http.StatusConflict, "NOT_OPEN"
	case errors.Is(err, devices.ErrCardExists):
		return http.StatusConflict, "CARD_EXISTS"
	case errors.Is(err, devices.ErrCardNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, usbdo96.ErrDeviceNotFound):
		return http.StatusFailedDependency, "DEVICE_NOT_FOUND"
	case errors.Is(err, usbdo96.ErrAmbiguousDevice):
		return http.StatusFailedDependency, "AMBIGUOUS_DEVICE"
	case errors.Is(err, usbdo96.ErrTransport):
		return http.StatusBadGateway, "TRANSPORT_ERROR"
	case errors.Is(err, auth.ErrAccountLocked):
		return http.StatusForbidden, "ACCOUNT_LOCKED"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "INVALID_TOKEN"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	_ = c.Error(err)
	c.JSON(status, types.NewErrorResponse(code, err.Error(), nil))
}

// bindJSON decodes the request body into v, answering 400 on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("INVALID_REQUEST", "Invalid request body", err.Error()))
		return false
	}
	return true
}
