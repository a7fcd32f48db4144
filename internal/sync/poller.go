// Package sync runs the poll, dedup, notify and record cycle.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
)

// LoopState is what the loop is doing right now.
type LoopState int

const (
	LoopIdle LoopState = iota
	LoopCycling
)

func (s LoopState) String() string {
	if s == LoopCycling {
		return "cycling"
	}
	return "idle"
}

// fetchTimeout is the maximum time allowed for a single provider call.
const fetchTimeout = 30 * time.Second

// Deduper records which message ids were delivered.
type Deduper interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
}

// Notifier delivers one summary and reports success.
type Notifier interface {
	Notify(ctx context.Context, msg *model.MessageSummary) bool
}

// Status is a snapshot of the loop for diagnostics.
type Status struct {
	State     LoopState
	LastCycle model.PollCycleResult
	LastRun   time.Time
}

// outcome is the fate of a single message within a cycle.
type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeSkipped
	outcomeFailed
)

// PollLoop polls the mailbox at a fixed interval. Cycles never overlap
// and a failing cycle never stops the loop.
type PollLoop struct {
	fetcher  source.Fetcher
	store    Deduper
	notifier Notifier
	query    string
	interval time.Duration
	log      *zap.SugaredLogger

	mu     gosync.Mutex
	status Status
}

// New creates a PollLoop.
func New(fetcher source.Fetcher, store Deduper, notifier Notifier, query string, interval time.Duration, log *zap.SugaredLogger) *PollLoop {
	return &PollLoop{
		fetcher:  fetcher,
		store:    store,
		notifier: notifier,
		query:    query,
		interval: interval,
		log:      log,
	}
}

// Run executes cycles until ctx is cancelled, sleeping the interval after
// each one completes.
func (p *PollLoop) Run(ctx context.Context) {
	p.log.Infow("Starting mailbox monitor", "query", p.query, "interval", p.interval.String())

	for {
		p.RunCycle(ctx)

		select {
		case <-ctx.Done():
			p.log.Infow("Mailbox monitor stopped")
			return
		case <-time.After(p.interval):
		}
	}
}

// RunCycle performs one search and processes every returned id in
// order. A panic anywhere in the cycle is logged and contained.
func (p *PollLoop) RunCycle(ctx context.Context) (result model.PollCycleResult) {
	result.CycleID = uuid.NewString()
	start := time.Now()
	log := p.log.With("cycle_id", result.CycleID)

	p.setState(LoopCycling)
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Poll cycle panicked", "panic", fmt.Sprint(r))
		}
		result.Duration = time.Since(start)
		p.finish(result)
		log.Infow("Poll cycle finished",
			"found", result.Found,
			"delivered", result.Delivered,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"duration", result.Duration.String(),
		)
	}()

	searchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	ids, err := p.fetcher.Search(searchCtx, p.query, source.SearchLimit)
	cancel()
	if err != nil {
		log.Errorw("Error checking emails", "query", p.query, "error", err)
		return result
	}

	result.Found = len(ids)
	if len(ids) > 0 {
		log.Infow("Found messages", "count", len(ids))
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		switch p.processMessage(ctx, log, id) {
		case outcomeDelivered:
			result.Delivered++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
		}
	}

	return result
}

// processMessage handles one id. The message is marked only after the
// notifier confirms delivery, so failures are retried next cycle.
func (p *PollLoop) processMessage(ctx context.Context, log *zap.SugaredLogger, id string) (out outcome) {
	log = log.With("message_id", id)

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Message processing panicked", "panic", fmt.Sprint(r))
			out = outcomeFailed
		}
	}()

	processed, err := p.store.IsProcessed(ctx, id)
	if err != nil {
		log.Warnw("Dedup check failed, treating as unprocessed", "error", err)
	} else if processed {
		return outcomeSkipped
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	msg, err := p.fetcher.Fetch(fetchCtx, id)
	cancel()
	if err != nil {
		log.Errorw("Error getting message details", "error", err)
		return outcomeFailed
	}
	if msg == nil {
		log.Infow("Message unavailable, skipping")
		return outcomeSkipped
	}

	if !p.notifier.Notify(ctx, msg) {
		log.Warnw("Delivery failed, message left unmarked for retry")
		return outcomeFailed
	}

	if err := p.store.MarkProcessed(ctx, id); err != nil {
		log.Errorw("Failed to record delivered message", "error", err)
	}
	return outcomeDelivered
}

// Status returns the latest loop snapshot.
func (p *PollLoop) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *PollLoop) setState(state LoopState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = state
}

func (p *PollLoop) finish(result model.PollCycleResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = LoopIdle
	p.status.LastCycle = result
	p.status.LastRun = time.Now()
}
