package service

import (
	"context"
	"time"

	"github.com/atinyakov/CareKeeper/internal/models"
	"go.uber.org/zap"
)

// Sweeper locks the records of one entity type that have outlived the
// retention period.
type Sweeper interface {
	Kind() models.Kind
	Sweep(ctx context.Context) (int, error)
}

// StartLifecycleSweep runs every sweeper once immediately and then on each
// interval tick until ctx is done.
func StartLifecycleSweep(ctx context.Context, interval time.Duration, log *zap.Logger, sweepers ...Sweeper) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		runSweep(ctx, log, sweepers)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runSweep(ctx, log, sweepers)
			}
		}
	}()
}

func runSweep(ctx context.Context, log *zap.Logger, sweepers []Sweeper) {
	for _, s := range sweepers {
		if ctx.Err() != nil {
			return
		}
		locked, err := s.Sweep(ctx)
		if err != nil {
			log.Error("retention sweep failed",
				zap.String("entity", string(s.Kind())),
				zap.Int("locked", locked),
				zap.Error(err),
			)
			continue
		}
		if locked > 0 {
			log.Info("retention sweep locked records",
				zap.String("entity", string(s.Kind())),
				zap.Int("locked", locked),
			)
		}
	}
}
