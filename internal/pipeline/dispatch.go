package pipeline

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/loopera/chatrelay/internal/api/middleware"
	"github.com/loopera/chatrelay/internal/wa"
)

// DefaultMaxConcurrentRuns bounds simultaneous pipeline runs.
const DefaultMaxConcurrentRuns = 64

// DefaultRunTimeout bounds one pipeline run end to end. Individual external
// calls carry their own transport timeouts below this ceiling.
const DefaultRunTimeout = 2 * time.Minute

// Dispatcher schedules pipeline runs fire-and-forget. The webhook handler
// calls Dispatch and returns immediately; there is no result channel back to
// the ingress path.
type Dispatcher struct {
	pipeline   *Pipeline
	sem        *semaphore.Weighted
	runTimeout time.Duration
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher running at most maxConcurrent pipeline
// runs at once. Non-positive arguments fall back to the defaults.
func NewDispatcher(p *Pipeline, maxConcurrent int64, runTimeout time.Duration) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	return &Dispatcher{
		pipeline:   p,
		sem:        semaphore.NewWeighted(maxConcurrent),
		runTimeout: runTimeout,
	}
}

// Dispatch schedules one pipeline run for msg and returns immediately. Runs
// for different users proceed concurrently with no ordering guarantees; runs
// for the same user may race on the session (last-write-wins).
func (d *Dispatcher) Dispatch(msg *wa.InboundMessage) {
	middleware.RecordInboundEvent(msg.Type)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		// Detached from the request context: the webhook response must not
		// await, and must not cancel, this run.
		ctx, cancel := context.WithTimeout(context.Background(), d.runTimeout)
		defer cancel()

		if err := d.sem.Acquire(ctx, 1); err != nil {
			log.WithError(err).WithField("user", msg.From).Error("pipeline run rejected, concurrency gate saturated")
			return
		}
		defer d.sem.Release(1)

		d.pipeline.Process(ctx, msg)
	}()
}

// Shutdown waits for in-flight runs to finish or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
