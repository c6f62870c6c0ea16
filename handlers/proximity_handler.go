package handlers

import (
	stderrors "errors"
	"fmt"
	"net/http"

	apperrors "github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProximityHandler exposes the proximity core to the local shell.
type ProximityHandler struct {
	core ProximityController
	log  *zap.SugaredLogger
}

// NewProximityHandler creates a new ProximityHandler
func NewProximityHandler(core ProximityController) *ProximityHandler {
	return &ProximityHandler{
		core: core,
		log:  logger.GetLogger().Named("proximity_handler"),
	}
}

// GetStateHandler godoc
// @Summary Current proximity state
// @Description Returns permission, session, location and nearby state in one snapshot
// @Tags proximity
// @Produce json
// @Success 200 {object} types.ProximitySnapshot
// @Router /v1/proximity/state [get]
func (h *ProximityHandler) GetStateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Snapshot())
}

// RequestPermissionsHandler godoc
// @Summary Request location permissions
// @Description Prompts for foreground then background location permission
// @Tags permissions
// @Produce json
// @Success 200 {object} types.PermissionResponse
// @Router /v1/permissions/request [post]
func (h *ProximityHandler) RequestPermissionsHandler(c *gin.Context) {
	state := h.core.RequestPermissions(c.Request.Context())
	h.log.Infow("Permission request completed", "permission", state)
	c.JSON(http.StatusOK, types.PermissionResponse{Permission: state})
}

// StartSharingHandler godoc
// @Summary Start sharing
// @Description Opens a time-boxed sharing session for a festival
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body types.StartSharingRequest true "Session parameters"
// @Success 201 {object} types.SharingSession
// @Failure 400 {object} docs.ErrorResponse "Invalid request"
// @Failure 403 {object} docs.ErrorResponse "Location permission missing"
// @Failure 409 {object} docs.ErrorResponse "Session could not be started"
// @Router /v1/sessions [post]
func (h *ProximityHandler) StartSharingHandler(c *gin.Context) {
	var req types.StartSharingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid_request", err.Error()))
		return
	}

	if !h.core.StartSharing(c.Request.Context(), req.FestivalID, req.DurationMinutes) {
		_ = c.Error(h.startRefused(h.core.Snapshot(), "sharing"))
		return
	}

	snap := h.core.Snapshot()
	if snap.Session == nil {
		// Expired or stopped between the start and this read.
		_ = c.Error(apperrors.NewConflictError("sharing not started", string(snap.SessionState)))
		return
	}
	c.JSON(http.StatusCreated, snap.Session)
}

// StopSharingHandler godoc
// @Summary Stop sharing
// @Description Ends the current sharing session. Succeeds when none is active.
// @Tags sessions
// @Success 204
// @Router /v1/sessions/current [delete]
func (h *ProximityHandler) StopSharingHandler(c *gin.Context) {
	h.core.StopSharing(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// StartLocalTrackingHandler godoc
// @Summary Start local tracking
// @Description Follows the device for the festival map without sharing
// @Tags tracking
// @Accept json
// @Produce json
// @Param request body types.LocalTrackingRequest false "Festival to track"
// @Success 200 {object} types.ProximitySnapshot
// @Failure 403 {object} docs.ErrorResponse "Location permission missing"
// @Failure 409 {object} docs.ErrorResponse "Refused while sharing"
// @Router /v1/tracking/local [post]
func (h *ProximityHandler) StartLocalTrackingHandler(c *gin.Context) {
	var req types.LocalTrackingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.ValidationFailed("invalid_request", err.Error()))
			return
		}
	}

	if !h.core.StartLocalTracking(c.Request.Context(), req.FestivalID) {
		_ = c.Error(h.startRefused(h.core.Snapshot(), "local tracking"))
		return
	}
	c.JSON(http.StatusOK, h.core.Snapshot())
}

// StopLocalTrackingHandler godoc
// @Summary Stop local tracking
// @Tags tracking
// @Success 204
// @Router /v1/tracking/local [delete]
func (h *ProximityHandler) StopLocalTrackingHandler(c *gin.Context) {
	h.core.StopLocalTracking()
	c.Status(http.StatusNoContent)
}

// SelectFestivalHandler godoc
// @Summary Select festival
// @Description Sets the festival used by local tracking and refreshes
// @Tags proximity
// @Accept json
// @Produce json
// @Param request body types.SelectFestivalRequest true "Festival"
// @Success 200 {object} types.ProximitySnapshot
// @Failure 400 {object} docs.ErrorResponse "Invalid request"
// @Router /v1/festival [put]
func (h *ProximityHandler) SelectFestivalHandler(c *gin.Context) {
	var req types.SelectFestivalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid_request", err.Error()))
		return
	}
	h.core.SetFestival(req.FestivalID)
	c.JSON(http.StatusOK, h.core.Snapshot())
}

// RefreshHandler godoc
// @Summary Refresh nearby
// @Description Runs a one-shot nearby query from the last known fix. Without a fix or a festival it returns the unchanged state.
// @Tags proximity
// @Produce json
// @Success 200 {object} types.ProximitySnapshot
// @Failure 502 {object} docs.ErrorResponse "Proximity query failed"
// @Router /v1/proximity/refresh [post]
func (h *ProximityHandler) RefreshHandler(c *gin.Context) {
	if err := h.core.RefreshNearby(c.Request.Context()); err != nil {
		_ = c.Error(refreshError(err))
		return
	}
	c.JSON(http.StatusOK, h.core.Snapshot())
}

// startRefused explains a refused start from the state it left behind.
func (h *ProximityHandler) startRefused(snap types.ProximitySnapshot, what string) *apperrors.AppError {
	if !snap.Permission.HasForeground() {
		return apperrors.PermissionDenied(string(snap.Permission))
	}
	h.log.Infow("Start refused",
		"what", what,
		"session_state", snap.SessionState,
		"local_tracking", snap.LocalTracking)
	return apperrors.NewConflictError(what+" not started",
		fmt.Sprintf("session state %s", snap.SessionState))
}

func refreshError(err error) error {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if apperrors.Categorize(err) == apperrors.CategoryNetwork {
		return apperrors.Wrap(err, apperrors.NetworkError, "nearby refresh failed")
	}
	return apperrors.Wrap(err, apperrors.APIError, "nearby refresh failed")
}
