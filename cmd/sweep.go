package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/chimein/internal/config"
)

// sweeper is the maintenance surface of the engine.
type sweeper interface {
	Sweep() (messages, timers, limiters int)
}

// runSweeper calls Sweep on every tick of the cron expression until ctx ends.
func runSweeper(ctx context.Context, expr string, s sweeper) error {
	if expr == "" {
		expr = config.DefaultSweepSchedule
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid sweep schedule %q", expr)
	}

	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			return fmt.Errorf("next sweep tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		messages, timers, limiters := s.Sweep()
		slog.Debug("maintenance sweep",
			"expired_messages", messages,
			"stale_timers", timers,
			"idle_limiters", limiters,
		)
	}
}
