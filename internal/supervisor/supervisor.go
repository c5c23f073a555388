// Package supervisor starts and stops the reconciliation engine's two
// cooperative loops: it emits the service runtime log's lifecycle rows,
// runs a periodic heartbeat, and coordinates cancellation on shutdown so
// an in-flight iteration gets a bounded grace period to finish its current
// transaction before the process exits.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reconciler/internal/store/postgres"
)

// Loop is anything the supervisor can run as an independent cooperative
// task. The PSP poller's Run and the CRM sender's Run both satisfy this.
type Loop func(ctx context.Context)

// Supervisor owns process lifecycle: startup/shutdown/heartbeat logging and
// cooperative cancellation of the loops it starts.
type Supervisor struct {
	repo              *postgres.Repo
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration
}

func New(repo *postgres.Repo, heartbeatInterval, shutdownTimeout time.Duration) *Supervisor {
	return &Supervisor{repo: repo, heartbeatInterval: heartbeatInterval, shutdownTimeout: shutdownTimeout}
}

// Run starts every loop as its own goroutine, emits STARTUP, runs the
// heartbeat ticker, and blocks until ctx is canceled. On cancellation it
// waits up to shutdownTimeout for the loops to return before emitting
// SHUTDOWN and returning itself. A loop that doesn't return in time is not
// force-killed (Go has no such primitive); its own HTTP client timeouts and
// the ctx check between batches are what bound it in practice.
func (s *Supervisor) Run(ctx context.Context, loops ...Loop) {
	if err := s.repo.RecordRuntimeEvent(ctx, postgres.RuntimeStartup, map[string]any{"loop_count": len(loops)}); err != nil {
		log.Error().Err(err).Msg("supervisor: failed to record STARTUP")
	}
	log.Info().Int("loop_count", len(loops)).Msg("supervisor: starting")

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(l Loop) {
			defer wg.Done()
			defer s.recoverLoop(ctx)
			l(ctx)
		}(loop)
	}

	hbDone := make(chan struct{})
	go s.heartbeat(ctx, hbDone)

	<-ctx.Done()
	log.Info().Msg("supervisor: shutdown signal received, waiting for loops to stop")

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(s.shutdownTimeout):
		log.Warn().Dur("timeout", s.shutdownTimeout).Msg("supervisor: shutdown timeout elapsed before all loops returned")
	}
	<-hbDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.RecordRuntimeEvent(shutdownCtx, postgres.RuntimeShutdown, nil); err != nil {
		log.Error().Err(err).Msg("supervisor: failed to record SHUTDOWN")
	}
	log.Info().Msg("supervisor: stopped")
}

func (s *Supervisor) heartbeat(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	if s.heartbeatInterval <= 0 {
		return
	}
	t := time.NewTicker(s.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.repo.RecordRuntimeEvent(ctx, postgres.RuntimeHeartbeat, nil); err != nil {
				log.Error().Err(err).Msg("supervisor: failed to record HEARTBEAT")
			}
		}
	}
}

// recoverLoop is the outer safety net for a panic outside any single
// cycle, e.g. during a loop's own startup before its ticker starts.
// Per-cycle panics are caught one level in, by each loop's own
// runCycleGuarded, so a single bad cycle never reaches here and the ticker
// keeps running afterward. If a panic does reach this recover, the loop's
// goroutine has already returned and the supervisor does not restart it
// within the same process; operators rely on the next deploy/restart.
func (s *Supervisor) recoverLoop(ctx context.Context) {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Msg("supervisor: recovered panic in loop")
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.repo.RecordRuntimeEvent(logCtx, postgres.RuntimeLoopError, map[string]any{"panic": toString(r)})
	}
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}
