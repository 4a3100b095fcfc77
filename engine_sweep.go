package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/medconnect/authcore/breaker"
	"github.com/medconnect/authcore/revocation"
	"github.com/medconnect/authcore/store"
)

// sweepTarget is a backend that keeps expired revocation entries until
// swept, paired with the breaker its other calls go through.
type sweepTarget struct {
	name    string
	sweeper store.Sweeper
	breaker *breaker.Breaker
}

func collectSweepTargets(s store.Store, sb *breaker.Breaker, c revocation.Cache, cb *breaker.Breaker) []sweepTarget {
	var out []sweepTarget
	if sw, ok := s.(store.Sweeper); ok {
		out = append(out, sweepTarget{name: "store", sweeper: sw, breaker: sb})
	}
	if sw, ok := c.(store.Sweeper); ok {
		out = append(out, sweepTarget{name: "cache", sweeper: sw, breaker: cb})
	}
	return out
}

// sweepOnce drops expired entries from every target and returns how many
// were removed. A failing target is logged and skipped.
func (e *Engine) sweepOnce(ctx context.Context) int64 {
	var total int64
	for _, target := range e.sweepTargets {
		n, err := breaker.Do(ctx, target.breaker, target.sweeper.Sweep)
		total += n
		if err != nil && ctx.Err() == nil {
			e.logger.Warn("revocation sweep failed", zap.String("backend", target.name), zap.Error(err))
		}
	}
	if total > 0 {
		e.metrics.Add(MetricRevocationSwept, uint64(total))
		e.logger.Debug("revocation entries swept", zap.Int64("removed", total))
	}
	return total
}

func (e *Engine) startSweeper(interval time.Duration) {
	if interval <= 0 || len(e.sweepTargets) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.stopSweep = cancel
	e.sweepDone = make(chan struct{})

	go func() {
		defer close(e.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.sweepOnce(ctx)
			}
		}
	}()
}

// stopSweeper cancels the sweep loop and waits for it to exit. Safe to call
// more than once.
func (e *Engine) stopSweeper() {
	if e.stopSweep == nil {
		return
	}
	e.stopSweep()
	<-e.sweepDone
}
