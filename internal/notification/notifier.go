package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/config"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"go.uber.org/zap"
)

const (
	defaultWindow = 5 * time.Minute
	keyPrefix     = "sharing_started:"
)

// RateLimiter counts hits per key in a fixed window.
// services.RateLimitService and services.MemoryRateLimiter satisfy it.
type RateLimiter interface {
	CheckLimit(ctx context.Context, key string, limit int, duration time.Duration) (bool, time.Duration, error)
}

// SharingStartedSender is the part of Client the notifier needs.
type SharingStartedSender interface {
	SendSharingStarted(ctx context.Context, userID string, data SharingStartedData) (*Response, error)
}

// NotifierOptions configures a SharingNotifier.
type NotifierOptions struct {
	Enabled bool
	// Limit is how many notifications one key may send per Window.
	Limit  int
	Window time.Duration
	// Scope is config.ScopePerUserGroup or config.ScopePerUser.
	Scope string
}

// NotifierOptionsFromConfig maps the notification and rate limit sections.
func NotifierOptionsFromConfig(n config.NotificationConfig, r config.RateLimitConfig) NotifierOptions {
	return NotifierOptions{
		Enabled: n.Enabled,
		Limit:   r.NotificationsPerWindow,
		Window:  time.Duration(r.WindowSeconds) * time.Second,
		Scope:   n.KeyScope,
	}
}

// SharingNotifier sends the "sharing started" notification at most Limit
// times per window and key.
type SharingNotifier struct {
	sender  SharingStartedSender
	limiter RateLimiter
	opts    NotifierOptions
	log     *zap.SugaredLogger
}

func NewSharingNotifier(sender SharingStartedSender, limiter RateLimiter, opts NotifierOptions) *SharingNotifier {
	if opts.Limit <= 0 {
		opts.Limit = 1
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Scope != config.ScopePerUser {
		opts.Scope = config.ScopePerUserGroup
	}
	return &SharingNotifier{
		sender:  sender,
		limiter: limiter,
		opts:    opts,
		log:     logger.GetLogger().Named("sharing_notifier"),
	}
}

func (n *SharingNotifier) key(userID, festivalID string) string {
	if n.opts.Scope == config.ScopePerUser {
		return keyPrefix + userID
	}
	return fmt.Sprintf("%s%s:%s", keyPrefix, userID, festivalID)
}

// SharingStarted sends the notification unless disabled or rate limited.
// A failing limiter does not block the notification.
func (n *SharingNotifier) SharingStarted(ctx context.Context, userID string, session types.SharingSession) error {
	if !n.opts.Enabled || n.sender == nil {
		return nil
	}

	if n.limiter != nil {
		allowed, retryAfter, err := n.limiter.CheckLimit(ctx, n.key(userID, session.FestivalID), n.opts.Limit, n.opts.Window)
		switch {
		case err != nil:
			n.log.Warnw("Rate limiter unavailable, sending anyway", "error", err)
		case !allowed:
			n.log.Infow("Sharing notification suppressed by rate limit",
				"user_id", logger.MaskID(userID),
				"festival_id", session.FestivalID,
				"retryAfter", retryAfter)
			return nil
		}
	}

	_, err := n.sender.SendSharingStarted(ctx, userID, SharingStartedData{
		SessionID:       session.ID,
		FestivalID:      session.FestivalID,
		SharedByID:      userID,
		DurationMinutes: session.DurationMinutes,
		ExpiresAt:       session.ExpiresAt().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	n.log.Infow("Sharing notification sent",
		"user_id", logger.MaskID(userID),
		"session_id", logger.MaskID(session.ID))
	return nil
}
