// Package notification publishes sharing events to the notification facade,
// which fans them out to the user's festival group over push and email.
package notification

// EventType names a facade event.
type EventType string

const (
	EventTypeSharingStarted EventType = "SHARING_STARTED"
	EventTypeSharingEnded   EventType = "SHARING_ENDED"
	EventTypeSystemAlert    EventType = "SYSTEM_ALERT"
)

// Priority selects the facade's delivery channels.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

var knownEventTypes = map[EventType]struct{}{
	EventTypeSharingStarted: {},
	EventTypeSharingEnded:   {},
	EventTypeSystemAlert:    {},
}

var knownPriorities = map[Priority]struct{}{
	PriorityCritical: {},
	PriorityHigh:     {},
	PriorityMedium:   {},
	PriorityLow:      {},
}

// Request is the body of POST /notify.
type Request struct {
	UserID         string                 `json:"userId"`
	EventType      EventType              `json:"eventType"`
	Priority       Priority               `json:"priority,omitempty"`
	NotificationID string                 `json:"notificationId,omitempty"`
	Data           map[string]interface{} `json:"data"`
}

// Response is the facade's answer. Error is set on non-200 replies.
type Response struct {
	NotificationID string   `json:"notificationId"`
	MessageID      string   `json:"messageId"`
	Status         string   `json:"status"`
	ChannelsUsed   []string `json:"channelsUsed"`
	Error          string   `json:"error,omitempty"`
}

// SharingStartedData is sent to the festival group when someone starts
// sharing their location.
type SharingStartedData struct {
	SessionID       string `json:"sessionId"`
	FestivalID      string `json:"festivalId"`
	SharedByID      string `json:"sharedById"`
	DurationMinutes int    `json:"durationMinutes"`
	ExpiresAt       string `json:"expiresAt"`
}

func (d SharingStartedData) fields() map[string]interface{} {
	return map[string]interface{}{
		"sessionId":       d.SessionID,
		"festivalId":      d.FestivalID,
		"sharedById":      d.SharedByID,
		"durationMinutes": d.DurationMinutes,
		"expiresAt":       d.ExpiresAt,
	}
}
