// Package queue holds the CRM push queue item, the one durable coupling
// between the PSP poller and the CRM sender loops.
package queue

import (
	"context"
	"time"
)

// Status is the CRM push queue item's lifecycle state.
type Status string

const (
	Pending Status = "PENDING"
	Failed  Status = "FAILED"
	Sent    Status = "SENT"
)

// Item is one row per (payment_id, operation) pair.
type Item struct {
	ID            int64
	PaymentID     int64
	Operation     string
	Status        Status
	Attempts      int
	NextAttemptAt *time.Time
	LastAttemptAt *time.Time
	ResponseCode  *int
	CRMID         string
	LastError     string
	Payload       []byte // frozen JSON body, fixed at enqueue time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PagarOperation is the only CRM operation the poller currently enqueues.
const PagarOperation = "PAGAR"

// Tx is one claiming transaction over the CRM push queue: ClaimPending's
// row locks stay held until Commit or Rollback, so a claimed item is
// invisible to every other sender process for the whole claim, POST,
// finalize round trip. Declared here, next to the Item it operates on, so
// both the postgres implementation and the crm sender's test fake depend
// on this package instead of on each other.
type Tx interface {
	ClaimPending(ctx context.Context, limit int) ([]Item, error)
	MarkCRMSent(ctx context.Context, id int64, crmID string, responseCode int) error
	MarkCRMFailed(ctx context.Context, id int64, attempts int, nextAttemptAt *time.Time, responseCode *int, lastErr string) error
	RecordCRMEvent(ctx context.Context, id int64, method, url string, headers map[string]string, body []byte, respStatus *int, respBody []byte, latencyMS int64, errMsg string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repo is the narrow slice of the CRM queue repository the sender loop
// needs: reactivate due failures outside any transaction, then hold one Tx
// open across an entire claim→POST→finalize cycle.
type Repo interface {
	ReactivateDueFailed(ctx context.Context) (int, error)
	BeginTx(ctx context.Context) (Tx, error)
}
