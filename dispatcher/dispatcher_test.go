package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"judgecore/core"
)

// fakeSubmissions implements core.SubmissionRepository with just enough
// behavior to drive lockPair; every other method is unused by these tests.
type fakeSubmissions struct {
	byID map[int64]*core.Submission
}

func (f *fakeSubmissions) FindByID(ctx context.Context, id int64) (*core.Submission, error) {
	return f.byID[id], nil
}
func (f *fakeSubmissions) MarkStatus(ctx context.Context, id int64, status string) error { return nil }
func (f *fakeSubmissions) SaveResult(ctx context.Context, result core.SubmissionResult, finalStatus string) error {
	return nil
}
func (f *fakeSubmissions) Create(ctx context.Context, userID, problemID int64, language, sourcePath string) (int64, time.Time, error) {
	return 0, time.Time{}, nil
}
func (f *fakeSubmissions) Delete(ctx context.Context, id int64) error { return nil }
func (f *fakeSubmissions) FindWithResult(ctx context.Context, id int64) (*core.SubmissionResultView, error) {
	return nil, nil
}
func (f *fakeSubmissions) AcquirePending(ctx context.Context, id int64) (*core.Submission, error) {
	return f.byID[id], nil
}
func (f *fakeSubmissions) IncrementRetry(ctx context.Context, id int64) (int, error) { return 1, nil }
func (f *fakeSubmissions) CountByUser(ctx context.Context, userID int64) (int, error) {
	return 0, nil
}
func (f *fakeSubmissions) CountSolvedProblemsByUser(ctx context.Context, userID int64) (int, error) {
	return 0, nil
}
func (f *fakeSubmissions) ListByUser(ctx context.Context, userID int64, problemID *int64, page, perPage int) ([]core.SubmissionListItem, int, error) {
	return nil, 0, nil
}
func (f *fakeSubmissions) ListByProblem(ctx context.Context, problemID int64, page, perPage int) ([]core.SubmissionListItem, int, error) {
	return nil, 0, nil
}

func TestLockPairSerializesSamePair(t *testing.T) {
	subs := &fakeSubmissions{byID: map[int64]*core.Submission{
		1: {ID: 1, UserID: 10, ProblemID: 100},
		2: {ID: 2, UserID: 10, ProblemID: 100},
	}}
	d := &Dispatcher{Submissions: subs}

	unlock1 := d.lockPair(context.Background(), 1)

	acquired := make(chan struct{})
	go func() {
		unlock2 := d.lockPair(context.Background(), 2)
		close(acquired)
		unlock2()
	}()

	select {
	case <-acquired:
		t.Fatalf("expected second lockPair call for the same pair to block")
	case <-time.After(50 * time.Millisecond):
	}

	unlock1()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("expected second lockPair call to proceed after unlock")
	}
}

func TestLockPairDoesNotSerializeDifferentPairs(t *testing.T) {
	subs := &fakeSubmissions{byID: map[int64]*core.Submission{
		1: {ID: 1, UserID: 10, ProblemID: 100},
		2: {ID: 2, UserID: 11, ProblemID: 200},
	}}
	d := &Dispatcher{Submissions: subs}

	var wg sync.WaitGroup
	wg.Add(2)
	done := make(chan struct{})

	unlock1 := d.lockPair(context.Background(), 1)
	go func() {
		defer wg.Done()
		unlock2 := d.lockPair(context.Background(), 2)
		unlock2()
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected lockPair on a different pair to proceed without blocking")
	}
	unlock1()
}

func TestNewAppliesDefaults(t *testing.T) {
	d := New(nil, nil, nil, nil)
	if d.Concurrency != defaultConcurrency {
		t.Fatalf("expected default concurrency %d, got %d", defaultConcurrency, d.Concurrency)
	}
	if d.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("expected default max attempts %d, got %d", defaultMaxAttempts, d.MaxAttempts)
	}
	if d.ReclaimInterval != defaultReclaimInterval {
		t.Fatalf("expected default reclaim interval %v, got %v", defaultReclaimInterval, d.ReclaimInterval)
	}
}
