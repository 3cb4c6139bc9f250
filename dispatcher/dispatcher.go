// Package dispatcher runs the bounded worker pool that drains the pending
// submission queue, judges each job, and reclaims jobs abandoned by a dead
// worker. Submissions from the same (user, problem) pair are never judged at
// the same time; the pair lock does not order them by submission time (a
// retried submission, for one, is re-enqueued behind later ones).
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"judgecore/core"
	"judgecore/judge"
)

// Dispatcher owns the worker pool, the per-pair serialization, and the
// reclaim loop for a single process.
type Dispatcher struct {
	Queue       core.RedisClient
	Submissions core.SubmissionRepository
	Engine      *judge.Engine
	Heartbeat   *core.HeartbeatState

	Concurrency     int
	Visibility      time.Duration
	ReclaimInterval time.Duration
	MaxAttempts     int

	pairLocks   sync.Map // key: "<userID>:<problemID>" -> *sync.Mutex
}

const (
	defaultConcurrency     = 4
	defaultReclaimInterval = 15 * time.Second
	defaultMaxAttempts     = 3
)

// New builds a Dispatcher with defaults applied for zero-valued fields.
func New(queue core.RedisClient, subs core.SubmissionRepository, engine *judge.Engine, hb *core.HeartbeatState) *Dispatcher {
	return &Dispatcher{
		Queue:           queue,
		Submissions:     subs,
		Engine:          engine,
		Heartbeat:       hb,
		Concurrency:     defaultConcurrency,
		Visibility:      core.DefaultVisibilityTimeout,
		ReclaimInterval: defaultReclaimInterval,
		MaxAttempts:     defaultMaxAttempts,
	}
}

// Run blocks until ctx is cancelled, draining the queue with Concurrency
// worker goroutines plus a background reclaimer.
func (d *Dispatcher) Run(ctx context.Context) {
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	go d.reclaimLoop(ctx)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.workerLoop(ctx, id)
		}(i + 1)
	}
	wg.Wait()
}

func (d *Dispatcher) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(d.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := d.Queue.RequeueExpired(ctx, core.ProcessingQueueKey, core.PendingQueueKey, time.Now())
			if err != nil {
				log.Printf("[reclaimer] requeue expired error: %v", err)
				continue
			}
			for _, job := range jobs {
				if id, err := strconv.ParseInt(job, 10, 64); err == nil {
					_, _ = d.Submissions.IncrementRetry(ctx, id)
				}
			}
			if len(jobs) > 0 {
				log.Printf("[reclaimer] requeued %d expired jobs", len(jobs))
			}
		}
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID int) {
	for {
		job, err := d.Queue.Reserve(ctx, core.PendingQueueKey, core.ProcessingQueueKey, d.Visibility)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
					continue
				}
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("[worker %d] dequeue error: %v", workerID, err)
			time.Sleep(time.Second)
			continue
		}

		d.handle(ctx, workerID, job)
	}
}

func (d *Dispatcher) handle(ctx context.Context, workerID int, job string) {
	if d.Heartbeat != nil {
		d.Heartbeat.JobStarted(job)
	}

	id, parseErr := strconv.ParseInt(job, 10, 64)
	if parseErr != nil {
		log.Printf("[worker %d] parse job id error for %s: %v", workerID, job, parseErr)
		_ = d.Queue.Ack(ctx, core.ProcessingQueueKey, job)
		return
	}

	unlock := d.lockPair(ctx, id)
	verdict, procErr := d.Engine.Judge(ctx, id)
	unlock()

	if procErr != nil {
		d.handleFailure(ctx, workerID, job, id, procErr)
	} else if verdict != "AC" {
		log.Printf("[worker %d] job %s finished with verdict=%s", workerID, job, verdict)
	}

	if err := d.Queue.Ack(ctx, core.ProcessingQueueKey, job); err != nil {
		log.Printf("[worker %d] ack failed for job %s: %v", workerID, job, err)
	}
	if d.Heartbeat != nil {
		d.Heartbeat.JobFinished(job, procErr)
	}
}

func (d *Dispatcher) handleFailure(ctx context.Context, workerID int, job string, id int64, procErr error) {
	if errors.Is(procErr, core.ErrSubmissionNotPending) {
		log.Printf("[worker %d] skip job %s: already processed", workerID, job)
		return
	}

	attempts, incErr := d.Submissions.IncrementRetry(ctx, id)
	if incErr != nil {
		log.Printf("[worker %d] increment retry failed for job %s: %v", workerID, job, incErr)
	}

	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	if attempts <= maxAttempts {
		_ = d.Submissions.MarkStatus(ctx, id, "pending")
		if err := d.Queue.Enqueue(ctx, core.PendingQueueKey, job); err != nil {
			log.Printf("[worker %d] re-enqueue job %s failed: %v", workerID, job, err)
		} else {
			log.Printf("[worker %d] job %s retried (attempt=%d)", workerID, job, attempts)
		}
		return
	}

	errMsg := procErr.Error()
	res := core.SubmissionResult{SubmissionID: id, Verdict: "IE", ErrorMessage: &errMsg}
	if saveErr := d.Submissions.SaveResult(ctx, res, "failed"); saveErr != nil {
		log.Printf("[worker %d] final fail save result job %s: %v", workerID, job, saveErr)
	}
	log.Printf("[worker %d] job %s poisoned after %d attempts", workerID, job, attempts)
}

// lockPair serializes judging for a single (user, problem) pair so two
// submissions from the same pair are never judged at the same time. It does
// not order them: whichever worker takes the lock first judges first. If the
// submission cannot be loaded, no lock is taken. Returns the unlock func.
func (d *Dispatcher) lockPair(ctx context.Context, submissionID int64) func() {
	sub, err := d.Submissions.FindByID(ctx, submissionID)
	if err != nil {
		return func() {}
	}
	key := fmt.Sprintf("%d:%d", sub.UserID, sub.ProblemID)
	muAny, _ := d.pairLocks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
