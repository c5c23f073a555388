// Package reconcile drives the PSP poller: the loop that claims
// non-terminal payments, asks each payment's provider adapter for the
// authoritative status, and transitions the ledger accordingly.
package reconcile

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"reconciler/internal/config"
	"reconciler/internal/crm"
	"reconciler/internal/domain/payment"
	"reconciler/internal/eventlog"
	"reconciler/internal/provider"
	"reconciler/internal/ratelimit"
	"reconciler/internal/store/postgres"
)

// Poller drives reconciliation cycles: claim a batch of non-terminal
// payments, call each one's adapter, persist the outcome, transition
// status, and enqueue CRM work on qualifying transitions.
type Poller struct {
	repo         *postgres.Repo
	registry     *provider.Registry
	gate         *ratelimit.Gate
	cfg          config.ReconcileCfg
	adapterTO    time.Duration
	extraEnqueue map[payment.Status]bool
}

func NewPoller(repo *postgres.Repo, registry *provider.Registry, gate *ratelimit.Gate, cfg config.ReconcileCfg, adapterTimeout time.Duration) *Poller {
	extra := make(map[payment.Status]bool, len(cfg.EnqueueOnTerminal))
	for _, s := range cfg.EnqueueOnTerminal {
		extra[payment.Status(s)] = true
	}
	return &Poller{repo: repo, registry: registry, gate: gate, cfg: cfg, adapterTO: adapterTimeout, extraEnqueue: extra}
}

// Run loops until ctx is canceled. The ticker is the inter-cycle sleep: a
// cycle that claims nothing simply waits for the next tick.
func (p *Poller) Run(ctx context.Context) {
	if !p.cfg.Enabled {
		log.Info().Msg("psp poller: disabled, not starting")
		return
	}
	log.Info().Msg("psp poller: started")
	interval := time.Duration(p.cfg.IntervalSeconds) * time.Second
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("psp poller: stopping")
			return
		case <-t.C:
			p.runCycleGuarded(ctx)
		}
	}
}

// runCycleGuarded runs one cycle with its own panic recovery, so a panic in
// a single iteration is logged as a LOOP_ERROR runtime row and the ticker
// loop keeps ticking afterward instead of this goroutine exiting for the
// rest of the process's lifetime.
func (p *Poller) runCycleGuarded(ctx context.Context) {
	defer p.recoverCycle(ctx)

	p.cycle(ctx)

	// Age-based abandonment is independent of the retry-offset schedule:
	// a PENDING payment past ABANDONED_TIMEOUT_MINUTES is swept even if
	// its check count would still allow more polls.
	if n, err := p.repo.AbandonStalePending(ctx, p.cfg.AbandonedAfter, p.cfg.Providers); err != nil {
		log.Error().Err(err).Msg("psp poller: abandon-stale sweep failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("psp poller: abandoned stale pending payments")
	}
}

func (p *Poller) recoverCycle(ctx context.Context) {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Msg("psp poller: recovered panic in cycle")
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.repo.RecordRuntimeEvent(logCtx, postgres.RuntimeLoopError, map[string]any{"loop": "psp_poller", "panic": panicMessage(r)})
	}
}

// panicMessage renders a recovered panic value the same way
// supervisor.recoverLoop does, so LOOP_ERROR rows look the same regardless
// of which loop recovered.
func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unknown panic"
}

// cycle runs one reconciliation batch and returns the number of payments
// claimed. The claim and every payment's writes share one transaction, so
// the SKIP LOCKED row locks hold until Commit; each payment additionally
// runs inside its own savepoint (pgx nests Begin on a Tx as a savepoint),
// so one payment's failed write rolls back that payment alone instead of
// poisoning the batch transaction for everything claimed after it.
func (p *Poller) cycle(ctx context.Context) int {
	tx, err := p.repo.DB().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		log.Error().Err(err).Msg("psp poller: begin tx failed")
		return 0
	}
	defer func() { _ = tx.Rollback(ctx) }()

	claimed, err := p.repo.SelectForReconciliation(ctx, tx, p.cfg.BatchSize, p.cfg.Providers, p.cfg.AttemptOffsets)
	if err != nil {
		log.Error().Err(err).Msg("psp poller: claim failed")
		return 0
	}
	if len(claimed) == 0 {
		return 0
	}

	for _, cp := range claimed {
		sub, err := tx.Begin(ctx)
		if err != nil {
			log.Error().Err(err).Int64("payment_id", cp.ID).Msg("psp poller: savepoint failed")
			continue
		}
		if err := p.processOne(ctx, sub, cp); err != nil {
			log.Error().Err(err).Int64("payment_id", cp.ID).Msg("psp poller: processing payment failed")
			_ = sub.Rollback(ctx)
			continue
		}
		if err := sub.Commit(ctx); err != nil {
			log.Error().Err(err).Int64("payment_id", cp.ID).Msg("psp poller: savepoint release failed")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("psp poller: commit failed")
		return 0
	}
	return len(claimed)
}

// processOne handles a single claimed payment: adapter call, event log,
// status check, then the transition and its CRM enqueue when one applies.
// An error returned here rolls back this payment's savepoint in cycle; the
// payment simply becomes eligible again next cycle.
func (p *Poller) processOne(ctx context.Context, tx pgx.Tx, cp payment.Payment) error {
	adapter, err := p.registry.Get(cp.Provider)
	if err != nil {
		log.Warn().Str("provider", cp.Provider).Int64("payment_id", cp.ID).Msg("psp poller: no adapter registered, skipping")
		return nil
	}

	if err := p.gate.Allow(ctx, cp.Provider); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.adapterTO)
	start := time.Now()
	result := adapter.Status(callCtx, cp.Token, cp.Context)
	latency := time.Since(start).Milliseconds()
	cancel()

	method := result.RequestMethod
	if method == "" {
		method = "GET"
	}
	url := result.RequestURL
	if url == "" {
		url = adapter.Name()
	}
	maskedHeaders := eventlog.MaskHeaders(result.RequestHeaders)
	maskedRespHeaders := eventlog.MaskHeaderValues(result.ResponseHeaders)
	if err := p.repo.RecordProviderEvent(ctx, tx, cp.ID, cp.Provider, method, url, maskedHeaders, result.RequestBody,
		result.ResponseCode, maskedRespHeaders, result.RawPayload, latency, result.ErrorMessage); err != nil {
		return err
	}

	if err := p.repo.RecordStatusCheck(ctx, tx, cp.ID, cp.Provider, result.Success, result.ProviderStatus,
		result.MappedStatus, result.ResponseCode, result.RawPayload, result.ErrorMessage); err != nil {
		return err
	}

	// The attempt count driving exhaustion is re-read after the insert, so
	// it includes the check just recorded.
	checkCount, err := p.repo.CountStatusChecks(ctx, tx, cp.ID)
	if err != nil {
		return err
	}
	outcome := decide(cp.Status, checkCount, len(p.cfg.AttemptOffsets), result, p.extraEnqueue)

	if outcome.NewStatus != nil {
		if err := p.repo.UpdatePaymentStatus(ctx, tx, cp.ID, *outcome.NewStatus, result.StatusReason, result.AuthorizationCode); err != nil {
			return err
		}
		if outcome.Enqueue {
			cp.Status = *outcome.NewStatus
			if result.AuthorizationCode != "" {
				cp.AuthorizationCode = result.AuthorizationCode
			}
			payload, err := crm.BuildPagarPayload(cp)
			if err != nil {
				return err
			}
			if err := p.repo.EnqueuePagar(ctx, tx, cp.ID, payload); err != nil {
				return err
			}
		}
		return nil
	}

	if outcome.Abandon {
		return p.repo.MarkAbandoned(ctx, tx, cp.ID, outcome.AbandonReason)
	}
	return nil
}

// outcome is what processOne must do in response to one adapter call,
// separated from the I/O so it can be verified without a database.
type outcome struct {
	NewStatus     *payment.Status
	Enqueue       bool
	Abandon       bool
	AbandonReason string
}

// decide applies the transition rules: a mapped status change always
// updates the ledger; a transition into AUTHORIZED enqueues a CRM push,
// as does a transition into any terminal status the deployment has opted
// in via extraEnqueue; a failed or unmapped call that has now exhausted
// the retry-offset budget abandons the payment instead.
func decide(current payment.Status, checkCount, maxAttempts int, result provider.Result, extraEnqueue map[payment.Status]bool) outcome {
	if result.Success && result.MappedStatus != nil && *result.MappedStatus != current {
		mapped := *result.MappedStatus
		enqueue := mapped == payment.Authorized || (payment.IsTerminal(mapped) && extraEnqueue[mapped])
		return outcome{NewStatus: &mapped, Enqueue: enqueue}
	}

	if (!result.Success || result.MappedStatus == nil) && checkCount >= maxAttempts {
		return outcome{Abandon: true, AbandonReason: "reconcile attempts exhausted"}
	}

	return outcome{}
}
