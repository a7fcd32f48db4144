package app

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailwatch/internal/health"
	"github.com/nhle/mailwatch/internal/model"
)

// Run starts the components selected by cfg.Mode and blocks until ctx is
// cancelled or the health server fails. Worker dependencies, including
// credentials, are resolved before anything starts so that an auth
// failure ends the process early.
func Run(ctx context.Context, cfg *model.AppConfig, log *zap.SugaredLogger) error {
	loc, ok := cfg.Location()
	if !ok {
		log.Warnw("Unknown timezone, using UTC", "timezone", cfg.Timezone)
	}

	var worker *Worker
	if cfg.RunsWorker() {
		w, err := BuildWorker(ctx, cfg, loc, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Warnw("Closing state store", "error", err)
			}
		}()
		worker = w
	}

	log.Infow("Starting mailwatch", "mode", cfg.Mode, "provider", cfg.Provider, "state_backend", cfg.State.Backend)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.RunsServer() {
		var loop health.LoopStatus
		if worker != nil {
			loop = worker.Loop
		}
		srv := health.New(loc, cfg.Mode, loop, log.Named("health"))
		g.Go(func() error {
			return srv.Run(ctx, cfg.Port)
		})
	}

	if worker != nil {
		delay := time.Duration(0)
		if cfg.RunsServer() {
			delay = cfg.WorkerStartDelay()
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			worker.Loop.Run(ctx)
			return nil
		})
	}

	return g.Wait()
}
