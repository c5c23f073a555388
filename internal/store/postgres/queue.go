package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"reconciler/internal/domain/queue"
)

// EnqueuePagar idempotently inserts one CRM push queue row for a payment
// that just reached AUTHORIZED (or a terminal status the deployment opted in
// via RECONCILE_ENQUEUE_ON_TERMINAL). The uniqueness constraint is
// (payment_id, operation); a second enqueue attempt for the same pair is a
// silent no-op that preserves the first row's payload and whatever
// attempt/backoff state it has accumulated. next_attempt_at stays NULL: a
// fresh PENDING item is runnable as soon as a sender observes it.
func (r *Repo) EnqueuePagar(ctx context.Context, tx pgx.Tx, paymentID int64, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO crm_push_queue (payment_id, operation, status, attempts, payload, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, 'PENDING', 0, $3, NULL, now(), now())
		ON CONFLICT (payment_id, operation) DO NOTHING`,
		paymentID, queue.PagarOperation, payload,
	)
	return err
}

// ReactivateDueFailed transitions FAILED items whose backoff has elapsed
// back to PENDING. Run once per sender cycle, before claiming. A row whose
// next_attempt_at is NULL is permanently failed and invisible here. This
// is a single statement with no follow-up write that depends on its lock,
// so it runs against the pool directly rather than inside a held
// transaction.
func (r *Repo) ReactivateDueFailed(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE crm_push_queue
		   SET status='PENDING', updated_at=now()
		 WHERE status='FAILED'
		   AND next_attempt_at IS NOT NULL
		   AND next_attempt_at <= now()`,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// QueueTx is one claiming transaction over the CRM push queue.
// ClaimPending's FOR UPDATE SKIP LOCKED lock is held until Commit or
// Rollback, so a claimed row stays invisible to every other sender process
// for the whole claim, POST, finalize round trip, not just for the claim
// statement. This is the same discipline reconcile.Poller uses by holding
// one BeginTx/Commit open across its own adapter calls.
// BeginTx/Commit open across its own adapter calls.
type QueueTx struct {
	tx pgx.Tx
}

// BeginTx starts one claiming transaction for the sender loop, returned as
// the queue.Tx interface so callers (and their test fakes) never need to
// know this is a *pgx.Tx underneath.
func (r *Repo) BeginTx(ctx context.Context) (queue.Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &QueueTx{tx: tx}, nil
}

// Commit durably finalizes every write made through this QueueTx and
// releases the row locks ClaimPending took.
func (q *QueueTx) Commit(ctx context.Context) error { return q.tx.Commit(ctx) }

// Rollback discards every write made through this QueueTx; any row
// ClaimPending locked becomes visible to the next sender cycle again.
func (q *QueueTx) Rollback(ctx context.Context) error { return q.tx.Rollback(ctx) }

// ClaimPending selects up to limit PENDING queue rows, using the same FOR
// UPDATE SKIP LOCKED discipline as the payment selection query so multiple
// CRM sender processes never race on the same push. The lock taken here is
// not released until the enclosing QueueTx commits or rolls back.
func (q *QueueTx) ClaimPending(ctx context.Context, limit int) ([]queue.Item, error) {
	rows, err := q.tx.Query(ctx, `
		WITH due AS (
			SELECT id FROM crm_push_queue
			 WHERE status = 'PENDING'
			 ORDER BY created_at ASC
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED
		)
		UPDATE crm_push_queue q
		   SET updated_at = now()
		  FROM due d
		 WHERE q.id = d.id
		RETURNING q.id, q.payment_id, q.operation, q.status, q.attempts,
		          q.next_attempt_at, q.last_attempt_at, q.response_code,
		          q.crm_id, q.last_error, q.payload, q.created_at, q.updated_at`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Item
	for rows.Next() {
		var it queue.Item
		var status string
		if err := rows.Scan(
			&it.ID, &it.PaymentID, &it.Operation, &status, &it.Attempts,
			&it.NextAttemptAt, &it.LastAttemptAt, &it.ResponseCode,
			&it.CRMID, &it.LastError, &it.Payload, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, err
		}
		it.Status = queue.Status(status)
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkCRMSent records a successful CRM push, counting it as one more
// attempt. SENT is a sink, never re-attempted.
func (q *QueueTx) MarkCRMSent(ctx context.Context, crmItemID int64, crmID string, responseCode int) error {
	_, err := q.tx.Exec(ctx, `
		UPDATE crm_push_queue
		   SET status='SENT', attempts=attempts+1, crm_id=$2, response_code=$3,
		       last_attempt_at=now(), next_attempt_at=NULL, updated_at=now()
		 WHERE id=$1`,
		crmItemID, nullIfEmpty(crmID), responseCode,
	)
	return err
}

// MarkCRMFailed sets the attempt counter and next retry time. attempts is
// the final post-failure count already computed by the sender loop; this
// layer persists it verbatim and has no opinion on the backoff schedule
// itself. A nil nextAttemptAt leaves the item permanently FAILED.
func (q *QueueTx) MarkCRMFailed(ctx context.Context, crmItemID int64, attempts int, nextAttemptAt *time.Time, responseCode *int, lastErr string) error {
	_, err := q.tx.Exec(ctx, `
		UPDATE crm_push_queue
		   SET status='FAILED', attempts=$2, response_code=$3,
		       last_error=$4, last_attempt_at=now(),
		       next_attempt_at=$5, updated_at=now()
		 WHERE id=$1`,
		crmItemID, attempts, responseCode, truncate(lastErr, 800), nextAttemptAt,
	)
	return err
}

// RecordCRMEvent appends an audit row for one outbound CRM HTTP call,
// mirroring RecordProviderEvent's shape for the PSP side. Header masking
// is the caller's responsibility.
func (q *QueueTx) RecordCRMEvent(ctx context.Context, crmItemID int64, method, url string, headers map[string]string, body []byte, respStatus *int, respBody []byte, latencyMS int64, errMsg string) error {
	headersJSON, _ := json.Marshal(headers)
	_, err := q.tx.Exec(ctx, `
		INSERT INTO crm_event_log
			(crm_push_queue_id, request_method, request_url, request_headers, request_body,
			 response_status, response_body, error_message, latency_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())`,
		crmItemID, method, url, headersJSON, body, respStatus, respBody, nullIfEmpty(errMsg), latencyMS,
	)
	return err
}
