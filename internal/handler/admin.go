package handler

import (
	"context"
	"net/http"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"go.uber.org/zap"
)

// StatsSource is the set of counters behind the admin stats endpoint.
type StatsSource struct {
	Users interface {
		Count(ctx context.Context) (int, error)
	}
	Subscriptions interface {
		CountByStatus(ctx context.Context) (map[string]int, error)
		CountUsersWithMultipleEntitling(ctx context.Context) (int, error)
	}
	Sagas interface {
		CountPending(ctx context.Context) (int, error)
	}
}

type AdminHandler struct {
	stats  StatsSource
	logger *zap.Logger
}

func NewAdminHandler(stats StatsSource, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{stats: stats, logger: logger}
}

// GetStats handles GET /api/admin/stats. A failed counter is logged and
// reported as zero.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := domain.SubscriptionStats{ByStatus: map[string]int{}}
	var err error

	if stats.TotalUsers, err = h.stats.Users.Count(ctx); err != nil {
		h.logger.Warn("failed to count users", zap.Error(err))
	}
	if byStatus, err := h.stats.Subscriptions.CountByStatus(ctx); err != nil {
		h.logger.Warn("failed to count subscriptions", zap.Error(err))
	} else {
		stats.ByStatus = byStatus
	}
	if stats.UsersWithMultiActive, err = h.stats.Subscriptions.CountUsersWithMultipleEntitling(ctx); err != nil {
		h.logger.Warn("failed to count users with multiple subscriptions", zap.Error(err))
	}
	if stats.PendingSagas, err = h.stats.Sagas.CountPending(ctx); err != nil {
		h.logger.Warn("failed to count pending plan changes", zap.Error(err))
	}

	JSON(w, http.StatusOK, stats)
}
