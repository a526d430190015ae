package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"scangate/internal/repository"
	"scangate/internal/scanner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// step 描述一次 Analysis 调用的脚本化结果。
type step struct {
	report *scanner.Report
	err    error
}

type scriptedScanner struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedScanner) Submit(ctx context.Context, filename string, r io.Reader) (string, error) {
	return "", fmt.Errorf("not used in poller tests")
}

func (s *scriptedScanner) Analysis(ctx context.Context, handle string) (*scanner.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.steps) {
		// 脚本耗尽后一直返回未终态
		return &scanner.Report{Status: "queued"}, nil
	}
	return s.steps[idx].report, s.steps[idx].err
}

func (s *scriptedScanner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingApplier struct {
	mu      sync.Mutex
	calls   []scanner.Stats
	digests []string
	err     error
}

func (a *recordingApplier) ApplyVerdict(ctx context.Context, digest string, stats scanner.Stats) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		err := a.err
		a.err = nil
		return err
	}
	a.calls = append(a.calls, stats)
	a.digests = append(a.digests, digest)
	return nil
}

func (a *recordingApplier) applied() []scanner.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]scanner.Stats, len(a.calls))
	copy(out, a.calls)
	return out
}

func waitFor(t *testing.T, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(message)
}

func completedReport(malicious int) *scanner.Report {
	return &scanner.Report{
		Status: scanner.StatusCompleted,
		Stats:  scanner.Stats{Malicious: malicious, Harmless: 50},
	}
}

func newTestPool(scan scanner.Client, applier VerdictApplier, maxAttempts int) *Pool {
	return New(Config{
		Interval:    time.Millisecond,
		MaxAttempts: maxAttempts,
		Workers:     1,
	}, scan, applier, testLogger())
}

func TestPollOne_CompletesAndAppliesVerdict(t *testing.T) {
	scan := &scriptedScanner{steps: []step{
		{report: &scanner.Report{Status: "queued"}},
		{report: completedReport(3)},
	}}
	applier := &recordingApplier{}

	pool := newTestPool(scan, applier, 10)
	pool.Start()
	defer pool.Shutdown()

	if !pool.Enqueue(Job{Digest: "abc", Handle: "h-1"}) {
		t.Fatal("enqueue on a running pool must succeed")
	}

	waitFor(t, func() bool { return len(applier.applied()) == 1 }, "verdict was never applied")

	stats := applier.applied()[0]
	if stats.Malicious != 3 {
		t.Fatalf("applier must receive the provider stats, got %+v", stats)
	}
	if scan.callCount() != 2 {
		t.Fatalf("expected exactly 2 queries (pending + completed), got %d", scan.callCount())
	}
}

func TestPollOne_StopsAfterAttemptBudget(t *testing.T) {
	// 提供方永远不给终态
	scan := &scriptedScanner{}
	applier := &recordingApplier{}

	const maxAttempts = 5
	pool := newTestPool(scan, applier, maxAttempts)
	pool.Start()
	defer pool.Shutdown()

	pool.Enqueue(Job{Digest: "abc", Handle: "h-1"})

	waitFor(t, func() bool { return scan.callCount() >= maxAttempts }, "budget was never reached")

	// 预算耗尽后不再发出任何查询
	time.Sleep(20 * time.Millisecond)
	if got := scan.callCount(); got != maxAttempts {
		t.Fatalf("expected exactly %d queries, got %d", maxAttempts, got)
	}
	if len(applier.applied()) != 0 {
		t.Fatal("no verdict may be applied when the provider never terminates")
	}
}

func TestPollOne_TransientErrorsConsumeAttemptsWithoutFailing(t *testing.T) {
	// N 次瞬时失败后成功，N 小于预算：必须到达终态，且恰好 N+1 次查询
	const transientFailures = 3
	var steps []step
	for i := 0; i < transientFailures; i++ {
		steps = append(steps, step{err: fmt.Errorf("%w: connection reset", scanner.ErrTransient)})
	}
	steps = append(steps, step{report: completedReport(0)})

	scan := &scriptedScanner{steps: steps}
	applier := &recordingApplier{}

	pool := newTestPool(scan, applier, 10)
	pool.Start()
	defer pool.Shutdown()

	pool.Enqueue(Job{Digest: "abc", Handle: "h-1"})

	waitFor(t, func() bool { return len(applier.applied()) == 1 }, "verdict was never applied")

	if got := scan.callCount(); got != transientFailures+1 {
		t.Fatalf("expected exactly %d queries, got %d", transientFailures+1, got)
	}
	if applier.applied()[0].Flagged() {
		t.Fatal("clean report must not be flagged")
	}
}

func TestPollOne_RetriesWhenApplyFails(t *testing.T) {
	scan := &scriptedScanner{steps: []step{
		{report: completedReport(1)},
		{report: completedReport(1)},
	}}
	applier := &recordingApplier{err: errors.New("publish failed")}

	pool := newTestPool(scan, applier, 10)
	pool.Start()
	defer pool.Shutdown()

	pool.Enqueue(Job{Digest: "abc", Handle: "h-1"})

	// 第一次 apply 失败消耗一次尝试，第二次查询后重试成功
	waitFor(t, func() bool { return len(applier.applied()) == 1 }, "verdict was never applied after retry")

	if got := scan.callCount(); got != 2 {
		t.Fatalf("expected 2 queries around the failed apply, got %d", got)
	}
}

func TestEnqueue_FailsAfterShutdown(t *testing.T) {
	scan := &scriptedScanner{}
	applier := &recordingApplier{}

	pool := newTestPool(scan, applier, 1)
	pool.Start()
	pool.Shutdown()

	if pool.Enqueue(Job{Digest: "abc", Handle: "h-1"}) {
		t.Fatal("enqueue after shutdown must return false")
	}
}

type staticPendingLister []repository.UploadRecord

func (l staticPendingLister) ListPending(ctx context.Context) ([]repository.UploadRecord, error) {
	return l, nil
}

func TestRecover_EnqueuesPendingRecords(t *testing.T) {
	scan := &scriptedScanner{steps: []step{
		{report: completedReport(0)},
		{report: completedReport(2)},
	}}
	applier := &recordingApplier{}

	pool := newTestPool(scan, applier, 10)
	pool.Start()
	defer pool.Shutdown()

	count, err := pool.Recover(context.Background(), staticPendingLister{
		{Digest: "d-1", AnalysisHandle: "h-1", Status: repository.UploadStatusPending},
		{Digest: "d-2", AnalysisHandle: "h-2", Status: repository.UploadStatusPending},
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 recovered jobs, got %d", count)
	}

	waitFor(t, func() bool { return len(applier.applied()) == 2 }, "recovered jobs were never polled")
}
