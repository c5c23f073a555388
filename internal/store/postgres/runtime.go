package postgres

import (
	"context"
	"encoding/json"
)

// Service runtime log kinds.
const (
	RuntimeStartup   = "STARTUP"
	RuntimeShutdown  = "SHUTDOWN"
	RuntimeHeartbeat = "HEARTBEAT"
	RuntimeLoopError = "LOOP_ERROR"
)

// RecordRuntimeEvent appends one lifecycle row to the append-only service
// runtime log. payload is marshaled as-is; a nil payload persists as a
// JSON null rather than failing the write.
func (r *Repo) RecordRuntimeEvent(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("null")
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO service_runtime_log (kind, payload, created_at)
		VALUES ($1, $2, now())`,
		kind, body,
	)
	return err
}
