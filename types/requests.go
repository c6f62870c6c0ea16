package types

// StartSharingRequest is the body of POST /v1/sessions. FestivalID falls
// back to the selected festival and DurationMinutes to the configured default.
type StartSharingRequest struct {
	FestivalID      string `json:"festivalId" example:"oktoberfest-2026"`
	DurationMinutes int    `json:"durationMinutes" binding:"gte=0,lte=1440" example:"120"`
}

// LocalTrackingRequest is the body of POST /v1/tracking/local.
type LocalTrackingRequest struct {
	FestivalID string `json:"festivalId" example:"oktoberfest-2026"`
}

// SelectFestivalRequest is the body of PUT /v1/festival.
type SelectFestivalRequest struct {
	FestivalID string `json:"festivalId" binding:"required" example:"oktoberfest-2026"`
}

// DevicePermissionsRequest carries the raw OS answers for both permissions.
type DevicePermissionsRequest struct {
	Foreground AuthorizationStatus `json:"foreground" binding:"required" example:"granted"`
	Background AuthorizationStatus `json:"background" binding:"required" example:"denied"`
}

// DeviceFixesRequest is a batch of fixes reported by the native shell.
type DeviceFixesRequest struct {
	Fixes []LocationFix `json:"fixes" binding:"required,min=1,max=500"`
}

// DeviceFixesResponse reports how many fixes of a batch were accepted.
type DeviceFixesResponse struct {
	Received int `json:"received"`
	Accepted int `json:"accepted"`
}

// PermissionResponse carries the folded permission state.
type PermissionResponse struct {
	Permission PermissionState `json:"permission" example:"FOREGROUND_GRANTED"`
}

// IsValid reports whether s is one of the known answers.
func (s AuthorizationStatus) IsValid() bool {
	switch s {
	case AuthorizationUndetermined, AuthorizationDenied, AuthorizationGranted:
		return true
	}
	return false
}
