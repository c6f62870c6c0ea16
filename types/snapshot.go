package types

// ProximitySnapshot is the externally observable state of the proximity
// core. Slices are copies; callers may keep them.
type ProximitySnapshot struct {
	Permission             PermissionState         `json:"permission"`
	SessionState           SessionState            `json:"sessionState"`
	Session                *SharingSession         `json:"session,omitempty"`
	FestivalID             string                  `json:"festivalId,omitempty"`
	CurrentLocation        *LocationFix            `json:"currentLocation,omitempty"`
	NearbyMembers          []NearbyMember          `json:"nearbyMembers"`
	NearbyPointsOfInterest []NearbyPointOfInterest `json:"nearbyPointsOfInterest"`
	ClosestPointOfInterest *NearbyPointOfInterest  `json:"closestPointOfInterest,omitempty"`
	LocalTracking          bool                    `json:"localTracking"`
}

// IsSharing reports whether a sharing session is active.
func (s ProximitySnapshot) IsSharing() bool {
	return s.SessionState == SessionStateActive && s.Session != nil
}
