package services

import (
	"context"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DatabasePinger is satisfied by *pgxpool.Pool.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// HealthService reports the state of the optional backing stores and the
// current sharing session.
type HealthService struct {
	db           DatabasePinger
	redisClient  *redis.Client
	version      string
	startTime    time.Time
	sessionState func() types.SessionState
	log          *zap.SugaredLogger
}

// NewHealthService accepts nil for either store; absent stores are not reported.
func NewHealthService(db DatabasePinger, redisClient *redis.Client, version string) *HealthService {
	return &HealthService{
		db:          db,
		redisClient: redisClient,
		version:     version,
		startTime:   time.Now(),
		log:         logger.GetLogger().Named("health"),
	}
}

func (h *HealthService) SetSessionStateGetter(getter func() types.SessionState) {
	h.sessionState = getter
}

func (h *HealthService) CheckHealth(ctx context.Context) types.HealthCheck {
	components := make(map[string]types.HealthComponent)
	overallStatus := types.HealthStatusUp

	if h.db != nil {
		dbStatus := h.checkDatabase(ctx)
		components["database"] = dbStatus
		overallStatus = worse(overallStatus, dbStatus.Status)
	}

	if h.redisClient != nil {
		redisStatus := h.checkRedis(ctx)
		components["redis"] = redisStatus
		overallStatus = worse(overallStatus, redisStatus.Status)
	}

	check := types.HealthCheck{
		Status:     overallStatus,
		Components: components,
		Version:    h.version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.sessionState != nil {
		check.SessionState = h.sessionState()
	}
	return check
}

func worse(current, next types.HealthStatus) types.HealthStatus {
	switch {
	case current == types.HealthStatusDown || next == types.HealthStatusDown:
		return types.HealthStatusDown
	case current == types.HealthStatusDegraded || next == types.HealthStatusDegraded:
		return types.HealthStatusDegraded
	default:
		return types.HealthStatusUp
	}
}

func (h *HealthService) checkDatabase(ctx context.Context) types.HealthComponent {
	if err := h.db.Ping(ctx); err != nil {
		h.log.Errorw("Database health check failed", "error", err)
		return types.HealthComponent{
			Status:  types.HealthStatusDown,
			Details: "Database connection failed",
		}
	}
	return types.HealthComponent{Status: types.HealthStatusUp}
}

// A device store that cannot be reached degrades the service: the in-memory
// mirrors keep working until the next cold start.
func (h *HealthService) checkRedis(ctx context.Context) types.HealthComponent {
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		h.log.Errorw("Redis health check failed", "error", err)
		return types.HealthComponent{
			Status:  types.HealthStatusDegraded,
			Details: "Redis connection failed",
		}
	}
	return types.HealthComponent{Status: types.HealthStatusUp}
}
