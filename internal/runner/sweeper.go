package runner

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = time.Minute

// StartSweeper runs a background goroutine that stops runs older than ttl
// and detaches runs whose container already exited.
func (s *Service) StartSweeper(ctx context.Context, ttl time.Duration) {
	if s.engine == nil || ttl <= 0 {
		return
	}
	interval := sweepInterval
	if ttl < interval {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Run sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx, ttl)
			case <-ctx.Done():
				slog.Info("Run sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// sweep returns the number of runs it detached.
func (s *Service) sweep(ctx context.Context, ttl time.Duration) int {
	now := s.now()
	swept := 0
	for _, rm := range s.rooms.Rooms() {
		run, ok := rm.Run().(*Run)
		if !ok || run == nil {
			continue
		}

		expired := now.Sub(run.StartedAt) > ttl
		if !expired {
			running, err := s.engine.IsRunning(ctx, run.ContainerID)
			if err != nil {
				s.logger.Warn("Run sweeper failed to inspect container", "room_id", rm.ID(), "container_id", run.ContainerID, "error", err)
				continue
			}
			if running {
				continue
			}
		}

		if !rm.TakeRunIf(run) {
			continue
		}
		if err := run.Stop(ctx); err != nil {
			s.logger.Error("Run sweeper failed to stop container", "room_id", rm.ID(), "container_id", run.ContainerID, "error", err)
		}
		s.logger.Info("Run sweeper detached run", "room_id", rm.ID(), "container_id", run.ContainerID, "expired", expired)
		swept++
	}
	return swept
}
