package types

// PermissionState is the location authorization held by the device.
type PermissionState string

const (
	PermissionUndetermined      PermissionState = "UNDETERMINED"
	PermissionDenied            PermissionState = "DENIED"
	PermissionForegroundGranted PermissionState = "FOREGROUND_GRANTED"
	PermissionBackgroundGranted PermissionState = "BACKGROUND_GRANTED"
)

// AuthorizationStatus is the raw answer a device gives for a single
// permission (foreground or background).
type AuthorizationStatus string

const (
	AuthorizationUndetermined AuthorizationStatus = "undetermined"
	AuthorizationDenied       AuthorizationStatus = "denied"
	AuthorizationGranted      AuthorizationStatus = "granted"
)

// HasForeground reports whether the state allows foreground capture.
func (p PermissionState) HasForeground() bool {
	return p == PermissionForegroundGranted || p == PermissionBackgroundGranted
}

// HasBackground reports whether the state allows background capture.
func (p PermissionState) HasBackground() bool {
	return p == PermissionBackgroundGranted
}

// IsValid reports whether p is one of the known states.
func (p PermissionState) IsValid() bool {
	switch p {
	case PermissionUndetermined, PermissionDenied, PermissionForegroundGranted, PermissionBackgroundGranted:
		return true
	}
	return false
}

// rank orders states so the best of two can be picked.
func (p PermissionState) rank() int {
	switch p {
	case PermissionBackgroundGranted:
		return 3
	case PermissionForegroundGranted:
		return 2
	case PermissionDenied:
		return 1
	}
	return 0
}

// Best returns whichever of p and other grants more.
func (p PermissionState) Best(other PermissionState) PermissionState {
	if other.rank() > p.rank() {
		return other
	}
	return p
}

// PermissionStateFrom folds the two device answers into one state.
// Background authorization without foreground is treated as foreground-less.
func PermissionStateFrom(foreground, background AuthorizationStatus) PermissionState {
	switch foreground {
	case AuthorizationGranted:
		if background == AuthorizationGranted {
			return PermissionBackgroundGranted
		}
		return PermissionForegroundGranted
	case AuthorizationDenied:
		return PermissionDenied
	default:
		return PermissionUndetermined
	}
}
