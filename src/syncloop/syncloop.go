package syncloop

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradedesk/src/service"
)

// SyncLoop periodically reconciles local orders and positions against the
// exchange. One loop serves one connection, so passes never overlap and
// the reconciler sees strictly serialized calls.
type SyncLoop struct {
	reconciler *service.Reconciler
	cfg        Config
}

func New(reconciler *service.Reconciler, cfg Config) *SyncLoop {
	return &SyncLoop{reconciler: reconciler, cfg: cfg}
}

// Start runs reconciliation passes until SIGINT or SIGTERM. A failed pass
// is logged and the loop keeps going; the next tick retries.
func (l *SyncLoop) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	logger.WithFields(map[string]interface{}{
		"component":     "SyncLoop",
		"period":        l.cfg.LoopPeriod.String(),
		"connection_id": l.cfg.ConnectionID,
	}).Info("sync loop started")

	ticker := time.NewTicker(l.cfg.LoopPeriod)
	defer ticker.Stop()

	l.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("sync loop stopped")
			return nil
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

func (l *SyncLoop) runOnce(ctx context.Context) {
	if _, err := l.reconciler.SyncOrders(ctx, l.cfg.ConnectionID); err != nil {
		logger.WithFields(map[string]interface{}{
			"component":     "SyncLoop",
			"connection_id": l.cfg.ConnectionID,
		}).WithError(err).Error("order sync pass failed")
	}

	if _, err := l.reconciler.SyncPositions(ctx, l.cfg.UserID, l.cfg.TenantID, l.cfg.ConnectionID); err != nil {
		logger.WithFields(map[string]interface{}{
			"component":     "SyncLoop",
			"connection_id": l.cfg.ConnectionID,
		}).WithError(err).Error("position sync pass failed")
	}
}
