package orchestrator

// subscriptionOwner records which mode holds the foreground location
// subscription. At most one does at a time.
type subscriptionOwner int

const (
	ownerNone subscriptionOwner = iota
	ownerLocal
	ownerSession
)

func (o subscriptionOwner) String() string {
	switch o {
	case ownerLocal:
		return "local"
	case ownerSession:
		return "session"
	default:
		return "none"
	}
}

// canAcquire reports whether next may take the subscription from o. The
// session may always take it; local tracking never displaces a session.
func (o subscriptionOwner) canAcquire(next subscriptionOwner) bool {
	switch next {
	case ownerSession:
		return true
	case ownerLocal:
		return o != ownerSession
	default:
		return false
	}
}
