package crm

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"reconciler/internal/config"
	"reconciler/internal/domain/queue"
	"reconciler/internal/eventlog"
)

// Repo is what the sender loop needs from storage: queue.Repo's
// claim/reactivate operations plus the same runtime-log sink the
// supervisor uses, so a panic recovered inside one cycle is persisted as a
// LOOP_ERROR row the same way a panic recovered outside the loop is.
// *postgres.Repo satisfies this directly; the hand-rolled fake in
// sender_flow_test.go implements it without a database.
type Repo interface {
	queue.Repo
	RecordRuntimeEvent(ctx context.Context, kind string, payload any) error
}

// Sender drains the CRM push queue: reactivate due failures, then claim,
// POST, and finalize items one at a time, each inside its own held
// transaction so the claim's row lock covers the whole round trip. The
// queue.Repo/queue.Tx split lives in internal/domain/queue so this package
// and internal/store/postgres share the contract without depending on each
// other directly.
type Sender struct {
	repo     Repo
	client   *Client
	cfg      config.CRMCfg
	interval time.Duration
	batch    int
}

func NewSender(repo Repo, client *Client, cfg config.CRMCfg, interval time.Duration) *Sender {
	return &Sender{repo: repo, client: client, cfg: cfg, interval: interval, batch: 10}
}

// Run loops until ctx is canceled. The ticker is the inter-cycle sleep: an
// empty queue simply waits for the next tick.
func (s *Sender) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Info().Msg("crm sender: disabled, not starting")
		return
	}
	log.Info().Msg("crm sender: started")
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("crm sender: stopping")
			return
		case <-t.C:
			s.runCycleGuarded(ctx)
		}
	}
}

// runCycleGuarded runs one cycle with its own panic recovery: a panic
// inside cycle is logged as a LOOP_ERROR runtime row and the ticker loop
// keeps running afterward, instead of this goroutine exiting for the rest
// of the process's lifetime.
func (s *Sender) runCycleGuarded(ctx context.Context) {
	defer s.recoverCycle(ctx)
	s.cycle(ctx)
}

func (s *Sender) recoverCycle(ctx context.Context) {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Msg("crm sender: recovered panic in cycle")
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.repo.RecordRuntimeEvent(logCtx, "LOOP_ERROR", map[string]any{"loop": "crm_sender", "panic": panicMessage(r)})
	}
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unknown panic"
}

// cycle reactivates due failures, then drains up to batch items, one
// transaction per item: the claim's FOR UPDATE SKIP LOCKED lock is held
// across the POST and the finalize write, and committed (or rolled back)
// before the next item is claimed. Per-item transactions keep one item's
// failed write from discarding another item's already-recorded outcome:
// in particular, a SENT mark is durable the moment its own commit lands.
// Returns the number of items processed.
func (s *Sender) cycle(ctx context.Context) int {
	if _, err := s.repo.ReactivateDueFailed(ctx); err != nil {
		log.Error().Err(err).Msg("crm sender: reactivate-due-failed failed")
	}

	processed := 0
	for processed < s.batch {
		if ctx.Err() != nil {
			return processed
		}
		n, err := s.drainOne(ctx)
		if err != nil {
			log.Error().Err(err).Msg("crm sender: draining item failed")
			return processed
		}
		if n == 0 {
			return processed
		}
		processed++
	}
	return processed
}

// drainOne claims and finalizes a single queue item inside its own
// transaction. Returns 0 when the queue is empty.
func (s *Sender) drainOne(ctx context.Context) (int, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	items, err := tx.ClaimPending(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	item := items[0]
	if err := s.processOne(ctx, tx, item); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return 1, nil
}

// processOne POSTs one claimed queue item and records the outcome, all of
// it written through the transaction the item was claimed under.
func (s *Sender) processOne(ctx context.Context, tx queue.Tx, item queue.Item) error {
	result := s.client.Pagar(ctx, item.Payload)

	maskedHeaders := eventlog.MaskHeaders(s.client.RequestHeaders())
	var respStatus *int
	if result.StatusCode != 0 {
		code := result.StatusCode
		respStatus = &code
	}
	if err := tx.RecordCRMEvent(ctx, item.ID, "POST", s.client.URL(), maskedHeaders, result.RequestBody,
		respStatus, result.ResponseBody, result.LatencyMS, result.ErrorMessage); err != nil {
		return err
	}

	if result.Success {
		return tx.MarkCRMSent(ctx, item.ID, result.CRMID, result.StatusCode)
	}

	next, attempts, permanent := decideBackoff(item.Attempts, s.cfg.RetryBackoff)
	if permanent {
		log.Warn().Int64("queue_id", item.ID).Int("attempts", attempts).Msg("crm sender: backoff exhausted, item permanently failed")
	}
	return tx.MarkCRMFailed(ctx, item.ID, attempts, next, respStatus, result.ErrorMessage)
}

// decideBackoff keeps the backoff arithmetic apart from the database
// writes so it can be tested directly (backoff=[10,20]: attempt 1 retries
// after 10s, attempt 2 after 20s, attempt 3 is permanent). attempts is the
// count BEFORE this failed call; the returned attempts is attempts+1. A
// nil nextAttemptAt pairs with permanent=true: the schedule is exhausted
// and the item is a sink, invisible to reactivation from then on.
func decideBackoff(attempts int, backoff []int) (nextAttemptAt *time.Time, newAttempts int, permanent bool) {
	newAttempts = attempts + 1
	if newAttempts > len(backoff) {
		return nil, newAttempts, true
	}
	at := time.Now().Add(time.Duration(backoff[newAttempts-1]) * time.Second)
	return &at, newAttempts, false
}
