package drain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/3112shubham/test-hub-sub000/internal/log"
	"github.com/3112shubham/test-hub-sub000/internal/store"
)

type fakeStaging struct {
	mu      sync.Mutex
	order   []int64
	items   map[int64]*store.QueueItem
	readErr error
}

func newFakeStaging() *fakeStaging {
	return &fakeStaging{items: make(map[int64]*store.QueueItem)}
}

func (f *fakeStaging) add(payload map[string]interface{}) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	itemID := int64(len(f.order) + 1)
	f.items[itemID] = &store.QueueItem{
		ID:        itemID,
		Payload:   payload,
		Status:    store.StatusPending,
		CreatedAt: time.Now(),
	}
	f.order = append(f.order, itemID)
	return itemID
}

func (f *fakeStaging) ReadPendingBatch(ctx context.Context, limit int) ([]store.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []store.QueueItem
	for _, itemID := range f.order {
		item, ok := f.items[itemID]
		if !ok || item.Status != store.StatusPending {
			continue
		}
		out = append(out, *item)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStaging) MarkFailed(ctx context.Context, itemID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[itemID]; ok {
		item.Status = store.StatusFailed
		item.LastError = &reason
	}
	return nil
}

func (f *fakeStaging) Remove(ctx context.Context, itemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, itemID)
	return nil
}

func (f *fakeStaging) get(itemID int64) (store.QueueItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return store.QueueItem{}, false
	}
	return *item, true
}

func (f *fakeStaging) countByStatus(status store.Status) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if item.Status == status {
			n++
		}
	}
	return n
}

type fakeRecords struct {
	mu    sync.Mutex
	fail  map[string]error
	calls int
	added []string
}

func (f *fakeRecords) AddSubmission(ctx context.Context, testID string, payload map[string]interface{}) (store.SubmissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.fail[testID]; ok {
		return store.SubmissionRecord{}, err
	}
	f.added = append(f.added, testID)
	return store.SubmissionRecord{}, nil
}

func (f *fakeRecords) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func submission(testID string) map[string]interface{} {
	return map[string]interface{}{
		"testId":         testID,
		"responsesArray": []interface{}{map[string]interface{}{"q": "1", "answer": "A"}},
	}
}

func TestDrainCommitsAndRemoves(t *testing.T) {
	staging := newFakeStaging()
	for _, testID := range []string{"a1", "a2", "a3"} {
		staging.add(submission(testID))
	}
	records := &fakeRecords{}
	d := NewDrainer(staging, records, 100, log.NewLogger())

	report, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %s", err)
	}
	if report.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", report.Processed)
	}
	for _, outcome := range report.Details {
		if outcome.Status != StatusProcessed {
			t.Fatalf("expected processed outcome for %d, got %s", outcome.ID, outcome.Status)
		}
	}
	if got := staging.countByStatus(store.StatusPending); got != 0 {
		t.Fatalf("expected empty queue, %d items left", got)
	}

	// A second pass must find nothing.
	report, err = d.Drain(context.Background())
	if err != nil {
		t.Fatalf("second drain failed: %s", err)
	}
	if len(report.Details) != 0 {
		t.Fatalf("expected empty second pass, got %d outcomes", len(report.Details))
	}
}

func TestDrainMissingRoutingKey(t *testing.T) {
	staging := newFakeStaging()
	itemID := staging.add(map[string]interface{}{})
	records := &fakeRecords{}
	d := NewDrainer(staging, records, 100, log.NewLogger())

	report, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %s", err)
	}
	if len(report.Details) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(report.Details))
	}
	outcome := report.Details[0]
	if outcome.Status != StatusFailed || outcome.Reason != "missing testId" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if records.commitCount() != 0 {
		t.Fatal("no commit may be attempted for an unroutable item")
	}

	item, ok := staging.get(itemID)
	if !ok {
		t.Fatal("unroutable item must not be deleted")
	}
	if item.Status != store.StatusFailed || item.LastError == nil || *item.LastError != "missing testId" {
		t.Fatalf("unexpected item state: %+v", item)
	}

	// Failed items stay out of the next read set.
	batch, err := staging.ReadPendingBatch(context.Background(), 100)
	if err != nil {
		t.Fatalf("read failed: %s", err)
	}
	if len(batch) != 0 {
		t.Fatalf("failed item leaked back into pending reads: %+v", batch)
	}
}

func TestDrainCommitFailureKeepsItem(t *testing.T) {
	staging := newFakeStaging()
	itemID := staging.add(submission("gone"))
	records := &fakeRecords{fail: map[string]error{"gone": errors.New("test not found")}}
	d := NewDrainer(staging, records, 100, log.NewLogger())

	report, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %s", err)
	}
	outcome := report.Details[0]
	if outcome.Status != StatusFailed || outcome.Reason != "test not found" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	item, ok := staging.get(itemID)
	if !ok {
		t.Fatal("item must survive a commit failure")
	}
	if item.Status != store.StatusFailed || *item.LastError != "test not found" {
		t.Fatalf("unexpected item state: %+v", item)
	}
}

func TestDrainBatchBound(t *testing.T) {
	staging := newFakeStaging()
	for i := 0; i < 5; i++ {
		staging.add(submission("a1"))
	}
	records := &fakeRecords{}
	d := NewDrainer(staging, records, 2, log.NewLogger())

	report, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %s", err)
	}
	if len(report.Details) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(report.Details))
	}
	if got := staging.countByStatus(store.StatusPending); got != 3 {
		t.Fatalf("expected 3 items left pending, got %d", got)
	}
}

func TestDrainIndependentOutcomes(t *testing.T) {
	staging := newFakeStaging()
	okID1 := staging.add(submission("a1"))
	badID := staging.add(submission("bad"))
	okID2 := staging.add(submission("a2"))
	records := &fakeRecords{fail: map[string]error{"bad": errors.New("write rejected")}}
	d := NewDrainer(staging, records, 100, log.NewLogger())

	report, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %s", err)
	}
	if len(report.Details) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(report.Details))
	}

	processed, failed := 0, 0
	for _, outcome := range report.Details {
		switch outcome.Status {
		case StatusProcessed:
			processed++
		case StatusFailed:
			failed++
			if outcome.ID != badID {
				t.Fatalf("wrong item failed: %d", outcome.ID)
			}
		}
	}
	if processed != 2 || failed != 1 {
		t.Fatalf("expected 2 processed / 1 failed, got %d / %d", processed, failed)
	}

	for _, itemID := range []int64{okID1, okID2} {
		if _, ok := staging.get(itemID); ok {
			t.Fatalf("committed item %d must be deleted", itemID)
		}
	}
	if item, ok := staging.get(badID); !ok || item.Status != store.StatusFailed {
		t.Fatal("failed item must be retained as failed")
	}
}

func TestDrainReadFailurePropagates(t *testing.T) {
	staging := newFakeStaging()
	staging.readErr = errors.New("staging store down")
	records := &fakeRecords{}
	d := NewDrainer(staging, records, 100, log.NewLogger())

	_, err := d.Drain(context.Background())
	if err == nil {
		t.Fatal("expected whole-invocation error")
	}
	if records.commitCount() != 0 {
		t.Fatal("no items may be attempted when the batch read fails")
	}
}

func TestDrainCircuitOpenLeavesRestPending(t *testing.T) {
	staging := newFakeStaging()
	for i := 0; i < 6; i++ {
		staging.add(submission("down"))
	}
	records := &fakeRecords{fail: map[string]error{"down": errors.New("record store down")}}
	d := NewDrainer(staging, records, 100, log.NewLogger())

	report, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %s", err)
	}
	// The breaker trips after four consecutive commit failures; the rest of
	// the batch is skipped, not marked failed.
	if len(report.Details) != 4 {
		t.Fatalf("expected 4 attempted outcomes, got %d", len(report.Details))
	}
	if got := staging.countByStatus(store.StatusFailed); got != 4 {
		t.Fatalf("expected 4 failed items, got %d", got)
	}
	if got := staging.countByStatus(store.StatusPending); got != 2 {
		t.Fatalf("expected 2 items left pending, got %d", got)
	}
}

// snapshotStaging hands the same pending batch to every reader, simulating
// two overlapping invocations that both read before either removes.
type snapshotStaging struct {
	*fakeStaging
	snapshot []store.QueueItem
}

func (s *snapshotStaging) ReadPendingBatch(ctx context.Context, limit int) ([]store.QueueItem, error) {
	return append([]store.QueueItem(nil), s.snapshot...), nil
}

func TestDrainConcurrentInvocationsMayDoubleCommit(t *testing.T) {
	base := newFakeStaging()
	itemID := base.add(submission("a1"))
	item, _ := base.get(itemID)
	staging := &snapshotStaging{fakeStaging: base, snapshot: []store.QueueItem{item}}
	records := &fakeRecords{}

	d1 := NewDrainer(staging, records, 100, log.NewLogger())
	d2 := NewDrainer(staging, records, 100, log.NewLogger())

	if _, err := d1.Drain(context.Background()); err != nil {
		t.Fatalf("first drain failed: %s", err)
	}
	if _, err := d2.Drain(context.Background()); err != nil {
		t.Fatalf("second drain failed: %s", err)
	}

	// Without leasing, at-least-once delivery means both invocations commit
	// the same item; the second Remove is an idempotent no-op.
	if records.commitCount() != 2 {
		t.Fatalf("expected 2 commits, got %d", records.commitCount())
	}
	if _, ok := base.get(itemID); ok {
		t.Fatal("item must be removed after commit")
	}
}
