package handlers

import (
	"fmt"
	"net/http"

	apperrors "github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DeviceHandler is the inbound side of the host bridge: the native shell
// reports OS permission answers and location fixes here.
type DeviceHandler struct {
	bridge      DeviceBridge
	permissions PermissionReconciler
	log         *zap.SugaredLogger
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(bridge DeviceBridge, permissions PermissionReconciler) *DeviceHandler {
	return &DeviceHandler{
		bridge:      bridge,
		permissions: permissions,
		log:         logger.GetLogger().Named("device_handler"),
	}
}

// SetPermissionsHandler godoc
// @Summary Report device permissions
// @Description Records the OS answers for foreground and background location and reconciles the permission state
// @Tags device
// @Accept json
// @Produce json
// @Param request body types.DevicePermissionsRequest true "OS permission answers"
// @Success 200 {object} types.PermissionResponse
// @Failure 400 {object} docs.ErrorResponse "Invalid request"
// @Router /v1/device/permissions [put]
func (h *DeviceHandler) SetPermissionsHandler(c *gin.Context) {
	var req types.DevicePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid_request", err.Error()))
		return
	}
	if !req.Foreground.IsValid() || !req.Background.IsValid() {
		_ = c.Error(apperrors.ValidationFailed("invalid_status",
			fmt.Sprintf("foreground %q, background %q", req.Foreground, req.Background)))
		return
	}

	h.bridge.SetPermissions(req.Foreground, req.Background)
	state := h.permissions.Reconcile(c.Request.Context())
	h.log.Infow("Device permissions reported",
		"foreground", req.Foreground,
		"background", req.Background,
		"permission", state)
	c.JSON(http.StatusOK, types.PermissionResponse{Permission: state})
}

// PushFixesHandler godoc
// @Summary Report location fixes
// @Description Delivers a batch of fixes to the foreground watchers and the background task. Invalid fixes are skipped.
// @Tags device
// @Accept json
// @Produce json
// @Param request body types.DeviceFixesRequest true "Fix batch"
// @Success 202 {object} types.DeviceFixesResponse
// @Failure 400 {object} docs.ErrorResponse "Invalid request or no valid fix"
// @Router /v1/device/fixes [post]
func (h *DeviceHandler) PushFixesHandler(c *gin.Context) {
	var req types.DeviceFixesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid_request", err.Error()))
		return
	}

	valid := make([]types.LocationFix, 0, len(req.Fixes))
	var firstErr error
	for _, fix := range req.Fixes {
		if _, err := valueobjects.NewGeoPointFromFix(fix); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		valid = append(valid, fix)
	}
	if len(valid) == 0 {
		_ = c.Error(firstErr)
		return
	}

	accepted := h.bridge.PushFixes(c.Request.Context(), valid)
	if skipped := len(req.Fixes) - len(valid); skipped > 0 {
		h.log.Warnw("Skipped invalid fixes", "skipped", skipped, "error", firstErr)
	}
	c.JSON(http.StatusAccepted, types.DeviceFixesResponse{
		Received: len(req.Fixes),
		Accepted: accepted,
	})
}
