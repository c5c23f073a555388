package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the single data-access type for the reconciliation ledger. It
// owns no business rules, only reads/writes against the ledger's six
// tables (payment, status_check, provider_event_log, crm_push_queue,
// crm_event_log, service_runtime_log), split across sibling files by
// concern.
type Repo struct {
	db *pgxpool.Pool
}

// NewRepo wraps an already-opened pool. Pool construction and migrations
// live with the deployment, not here.
func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{db: db} }

// DB exposes the underlying pool for callers that need to start their own
// transaction (the poller does, so a single payment's adapter-call +
// event-log + status-check + status-update all commit or roll back
// together).
func (r *Repo) DB() *pgxpool.Pool { return r.db }
