package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reconciler/internal/domain/queue"

	"reconciler/internal/config"
)

// fakeQueueRepo is a hand-rolled in-memory stand-in for postgres.Repo's
// queue operations, letting the sender loop be driven without a database.
// BeginTx hands back a fakeQueueTx sharing the same items map, so a
// committed fake transaction's writes are simply the writes it already
// made; there is no real isolation to simulate, only the interface shape
// the real held transaction exposes.
type fakeQueueRepo struct {
	items      map[int64]*queue.Item
	eventCalls int
	runtimeLog []string
}

func newFakeQueueRepo(items ...queue.Item) *fakeQueueRepo {
	m := make(map[int64]*queue.Item, len(items))
	for i := range items {
		it := items[i]
		m[it.ID] = &it
	}
	return &fakeQueueRepo{items: m}
}

func (f *fakeQueueRepo) ReactivateDueFailed(ctx context.Context) (int, error) {
	n := 0
	for _, it := range f.items {
		if it.Status == queue.Failed && it.NextAttemptAt != nil && !it.NextAttemptAt.After(time.Now()) {
			it.Status = queue.Pending
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueRepo) BeginTx(ctx context.Context) (queue.Tx, error) {
	return &fakeQueueTx{repo: f}, nil
}

func (f *fakeQueueRepo) RecordRuntimeEvent(ctx context.Context, kind string, payload any) error {
	f.runtimeLog = append(f.runtimeLog, kind)
	return nil
}

// fakeQueueTx implements queue.Tx against the same in-memory map its
// parent fakeQueueRepo holds. Commit/Rollback are no-ops: the fake has no
// real transaction isolation to release, only the claim→finalize ordering
// the interface enforces on callers.
type fakeQueueTx struct {
	repo *fakeQueueRepo
}

func (f *fakeQueueTx) Commit(ctx context.Context) error   { return nil }
func (f *fakeQueueTx) Rollback(ctx context.Context) error { return nil }

func (f *fakeQueueTx) ClaimPending(ctx context.Context, limit int) ([]queue.Item, error) {
	var out []queue.Item
	for _, it := range f.repo.items {
		if it.Status == queue.Pending && len(out) < limit {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeQueueTx) MarkCRMSent(ctx context.Context, id int64, crmID string, responseCode int) error {
	it := f.repo.items[id]
	it.Status = queue.Sent
	it.CRMID = crmID
	it.Attempts++
	it.NextAttemptAt = nil
	return nil
}

func (f *fakeQueueTx) MarkCRMFailed(ctx context.Context, id int64, attempts int, nextAttemptAt *time.Time, responseCode *int, lastErr string) error {
	it := f.repo.items[id]
	it.Status = queue.Failed
	it.Attempts = attempts
	it.NextAttemptAt = nextAttemptAt
	it.LastError = lastErr
	return nil
}

func (f *fakeQueueTx) RecordCRMEvent(ctx context.Context, id int64, method, url string, headers map[string]string, body []byte, respStatus *int, respBody []byte, latencyMS int64, errMsg string) error {
	f.repo.eventCalls++
	if headers["Authorization"] != "***" {
		return errAssert("authorization header must be masked before persisting")
	}
	return nil
}

type errAssert string

func (e errAssert) Error() string { return string(e) }

func TestSender_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"crm-42"}`))
	}))
	defer srv.Close()

	repo := newFakeQueueRepo(queue.Item{ID: 1, PaymentID: 7, Operation: "PAGAR", Status: queue.Pending, Payload: []byte(`{"payment_id":7}`)})
	client := NewClient(srv.URL, "/pagar", "secret-token", time.Second)
	cfg := config.CRMCfg{Enabled: true, RetryBackoff: []int{60, 300}}
	s := NewSender(repo, client, cfg, time.Second)

	claimed := s.cycle(context.Background())
	if claimed != 1 {
		t.Fatalf("expected 1 item claimed, got %d", claimed)
	}
	if repo.items[1].Status != queue.Sent {
		t.Fatalf("expected item to be SENT, got %s", repo.items[1].Status)
	}
	if repo.items[1].CRMID != "crm-42" {
		t.Fatalf("expected crm_id to be echoed from response body, got %q", repo.items[1].CRMID)
	}
	if repo.eventCalls != 1 {
		t.Fatalf("expected exactly one crm_event_log row, got %d", repo.eventCalls)
	}
}

func TestSender_NonTwoxxSchedulesBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := newFakeQueueRepo(queue.Item{ID: 1, PaymentID: 7, Operation: "PAGAR", Status: queue.Pending, Payload: []byte(`{}`)})
	client := NewClient(srv.URL, "/pagar", "secret-token", time.Second)
	cfg := config.CRMCfg{Enabled: true, RetryBackoff: []int{10, 20}}
	s := NewSender(repo, client, cfg, time.Second)

	s.cycle(context.Background())

	item := repo.items[1]
	if item.Status != queue.Failed {
		t.Fatalf("expected FAILED, got %s", item.Status)
	}
	if item.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", item.Attempts)
	}
	if item.NextAttemptAt == nil {
		t.Fatal("expected next_attempt_at to be set, schedule not yet exhausted")
	}
}

func TestSender_ReactivatesDueFailures(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	repo := newFakeQueueRepo(queue.Item{
		ID: 1, PaymentID: 7, Operation: "PAGAR", Status: queue.Failed,
		NextAttemptAt: &past, Payload: []byte(`{}`),
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "/pagar", "secret-token", time.Second)
	cfg := config.CRMCfg{Enabled: true, RetryBackoff: []int{10}}
	s := NewSender(repo, client, cfg, time.Second)

	claimed := s.cycle(context.Background())
	if claimed != 1 {
		t.Fatalf("expected the reactivated item to be claimed and sent this cycle, got %d", claimed)
	}
	if repo.items[1].Status != queue.Sent {
		t.Fatalf("expected SENT after reactivation+success, got %s", repo.items[1].Status)
	}
}
