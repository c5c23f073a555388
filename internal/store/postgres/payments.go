package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"reconciler/internal/domain/payment"
)

// SelectForReconciliation returns up to batchSize payments that are
// non-terminal, whose provider is in the whitelist, and whose next retry
// offset is due, using FOR UPDATE SKIP LOCKED so concurrent workers never
// contend on the same row. Returned rows stay locked for the lifetime of
// the caller's transaction.
//
// offsetsSeconds is the configured retry schedule: a payment is eligible
// for its k-th check (k = prior status_check count, 0-indexed) once
// now >= created_at + offsetsSeconds[k]. A payment whose check count has
// already reached len(offsetsSeconds) is excluded; abandoning it is the
// poller's decision at processing time, not the selection query's.
func (r *Repo) SelectForReconciliation(ctx context.Context, tx pgx.Tx, batchSize int, providers []string, offsetsSeconds []int) ([]payment.Payment, error) {
	if len(providers) == 0 || len(offsetsSeconds) == 0 {
		return nil, nil
	}

	providerPH, args := inListPlaceholders(providers, 1)
	offsetsPH, offsetArgs := intArrayPlaceholder(offsetsSeconds, len(args)+1)
	args = append(args, offsetArgs...)
	args = append(args, batchSize)
	batchPH := "$" + strconv.Itoa(len(args))

	query := fmt.Sprintf(`
		WITH offsets(k, secs) AS (
			SELECT ordinality - 1, secs
			FROM unnest(ARRAY[%s]::int[]) WITH ORDINALITY AS t(secs, ordinality)
		),
		checked AS (
			SELECT payment_id, count(*) AS n
			FROM status_check
			GROUP BY payment_id
		)
		SELECT p.id, p.provider, p.token, p.status, p.amount_minor, p.context,
		       p.product_id, p.authorization_code, p.status_reason,
		       p.created_at, p.updated_at,
		       p.first_authorized_at, p.failed_at, p.canceled_at, p.refunded_at, p.abandoned_at
		  FROM payment p
		  LEFT JOIN checked ON checked.payment_id = p.id
		  JOIN offsets ON offsets.k = LEAST(COALESCE(checked.n, 0), (SELECT max(k) FROM offsets))
		 WHERE p.status IN ('PENDING', 'TO_CONFIRM')
		   AND p.provider IN (%s)
		   AND COALESCE(checked.n, 0) < (SELECT count(*) FROM offsets)
		   AND now() >= p.created_at + (offsets.secs || ' seconds')::interval
		 ORDER BY p.created_at
		 LIMIT %s
		 FOR UPDATE OF p SKIP LOCKED`,
		offsetsPH, providerPH, batchPH)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select_payments_for_reconciliation: %w", err)
	}
	defer rows.Close()

	var out []payment.Payment
	for rows.Next() {
		var cp payment.Payment
		var ctxJSON []byte
		if err := rows.Scan(
			&cp.ID, &cp.Provider, &cp.Token, &cp.Status, &cp.AmountMinor, &ctxJSON,
			&cp.ProductID, &cp.AuthorizationCode, &cp.StatusReason,
			&cp.CreatedAt, &cp.UpdatedAt,
			&cp.FirstAuthorizedAt, &cp.FailedAt, &cp.CanceledAt, &cp.RefundedAt, &cp.AbandonedAt,
		); err != nil {
			return nil, err
		}
		if len(ctxJSON) > 0 {
			_ = json.Unmarshal(ctxJSON, &cp.Context)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// RecordProviderEvent appends one audit row for an outbound PSP HTTP call,
// regardless of whether the call succeeded. Header masking is the caller's
// responsibility (eventlog.MaskHeaders), kept out of this layer so the
// repository stays a pure data-access boundary.
func (r *Repo) RecordProviderEvent(ctx context.Context, tx pgx.Tx, paymentID int64, provider, method, url string, headers map[string]string, body []byte, respStatus *int, respHeaders map[string][]string, respBody []byte, latencyMS int64, errMsg string) error {
	headersJSON, _ := json.Marshal(headers)
	respHeadersJSON, _ := json.Marshal(respHeaders)
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_event_log
			(payment_id, provider, request_method, request_url, request_headers, request_body,
			 response_status, response_headers, response_body, error_message, latency_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())`,
		paymentID, provider, method, url, headersJSON, body,
		respStatus, respHeadersJSON, respBody, nullIfEmpty(errMsg), latencyMS,
	)
	return err
}

// RecordStatusCheck appends one status_check row for a poll attempt.
// Never modified or deleted afterward.
func (r *Repo) RecordStatusCheck(ctx context.Context, tx pgx.Tx, paymentID int64, provider string, success bool, providerStatus string, mappedStatus *payment.Status, responseCode *int, rawPayload []byte, errMsg string) error {
	var mapped *string
	if mappedStatus != nil {
		s := string(*mappedStatus)
		mapped = &s
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO status_check
			(payment_id, provider, success, provider_status, mapped_status, response_code, raw_payload, error_message, requested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())`,
		paymentID, provider, success, nullIfEmpty(providerStatus), mapped, responseCode, rawPayload, nullIfEmpty(errMsg),
	)
	return err
}

// CountStatusChecks returns the number of status_check rows for a payment.
// The poller calls it after recording a check, inside the same
// transaction, so the count it decides exhaustion on includes that check.
func (r *Repo) CountStatusChecks(ctx context.Context, tx pgx.Tx, paymentID int64) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT count(*) FROM status_check WHERE payment_id=$1`, paymentID).Scan(&n)
	return n, err
}

// terminalColumn maps a canonical terminal status to the single timestamp
// column that must be set for it.
var terminalColumn = map[payment.Status]string{
	payment.Authorized: "first_authorized_at",
	payment.Failed:     "failed_at",
	payment.Canceled:   "canceled_at",
	payment.Refunded:   "refunded_at",
	payment.Abandoned:  "abandoned_at",
}

// UpdatePaymentStatus transitions a payment to newStatus, setting exactly
// the matching terminal timestamp (if any) and always bumping updated_at.
func (r *Repo) UpdatePaymentStatus(ctx context.Context, tx pgx.Tx, paymentID int64, newStatus payment.Status, reason, authCode string) error {
	col, isTerminal := terminalColumn[newStatus]
	if !isTerminal {
		_, err := tx.Exec(ctx, `
			UPDATE payment
			   SET status = $2, status_reason = COALESCE(NULLIF($3,''), status_reason),
			       authorization_code = COALESCE(NULLIF($4,''), authorization_code),
			       updated_at = now()
			 WHERE id = $1`,
			paymentID, string(newStatus), reason, authCode,
		)
		return err
	}

	query := fmt.Sprintf(`
		UPDATE payment
		   SET status = $2, status_reason = COALESCE(NULLIF($3,''), status_reason),
		       authorization_code = COALESCE(NULLIF($4,''), authorization_code),
		       %s = now(), updated_at = now()
		 WHERE id = $1`, col)
	_, err := tx.Exec(ctx, query, paymentID, string(newStatus), reason, authCode)
	return err
}

// MarkAbandoned is the terminal transition used both by retry-budget
// exhaustion and by the age-based timeout sweep.
func (r *Repo) MarkAbandoned(ctx context.Context, tx pgx.Tx, paymentID int64, reason string) error {
	return r.UpdatePaymentStatus(ctx, tx, paymentID, payment.Abandoned, reason, "")
}

// AbandonStalePending sweeps PENDING payments older than maxAge,
// regardless of how many status checks they have accumulated, independent
// of, and in addition to, the retry-offset exhaustion path. Runs once per
// poller cycle as a single statement, outside the per-payment claim loop.
func (r *Repo) AbandonStalePending(ctx context.Context, maxAge time.Duration, providers []string) (int, error) {
	if len(providers) == 0 || maxAge <= 0 {
		return 0, nil
	}
	placeholders, args := inListPlaceholders(providers, 2)
	args = append([]any{maxAge.String()}, args...)

	query := fmt.Sprintf(`
		UPDATE payment
		   SET status = 'ABANDONED', status_reason = 'abandoned timeout exceeded',
		       abandoned_at = now(), updated_at = now()
		 WHERE status = 'PENDING'
		   AND provider IN (%s)
		   AND created_at < now() - $1::interval`, placeholders)
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// inListPlaceholders builds a "$n,$n+1,..." fragment for a string slice,
// starting parameter numbering at start, and returns the matching args.
func inListPlaceholders(vals []string, start int) (string, []any) {
	var ph []string
	args := make([]any, 0, len(vals))
	for i, v := range vals {
		ph = append(ph, "$"+strconv.Itoa(start+i))
		args = append(args, v)
	}
	return strings.Join(ph, ","), args
}

func intArrayPlaceholder(vals []int, start int) (string, []any) {
	var ph []string
	args := make([]any, 0, len(vals))
	for i, v := range vals {
		ph = append(ph, "$"+strconv.Itoa(start+i))
		args = append(args, v)
	}
	return strings.Join(ph, ","), args
}
