package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mediaqueue/internal/queue"
	"mediaqueue/internal/scheduler"
	"mediaqueue/internal/services"
	"mediaqueue/internal/testsupport"
)

// flakyUpdater fails the Update call numbered failOn.
type flakyUpdater struct {
	store  *queue.Store
	mu     sync.Mutex
	calls  int
	failOn int
}

func (f *flakyUpdater) Update(ctx context.Context, id string, fn func(*queue.Job) error) (*queue.Job, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failOn
	f.mu.Unlock()
	if fail {
		return nil, errors.New("disk full")
	}
	return f.store.Update(ctx, id, fn)
}

func setup(t *testing.T, slots int) (*queue.Store, *scheduler.Scheduler) {
	t.Helper()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	return store, scheduler.New(store, slots, nil)
}

func enqueue(t *testing.T, store *queue.Store, sched *scheduler.Scheduler, name string, priority int) *queue.Job {
	t.Helper()
	job := testsupport.NewJob(t, store, name, priority)
	if err := sched.Enqueue(job); err != nil {
		t.Fatalf("Enqueue %s: %v", name, err)
	}
	return job
}

func drain(t *testing.T, sched *scheduler.Scheduler) []string {
	t.Helper()
	var order []string
	for {
		job, err := sched.NextEligible(context.Background())
		if err != nil {
			t.Fatalf("NextEligible: %v", err)
		}
		if job == nil {
			return order
		}
		order = append(order, job.Filename)
		sched.Release(job.ID)
	}
}

func TestPriorityThenArrivalOrder(t *testing.T) {
	store, sched := setup(t, 1)
	enqueue(t, store, sched, "job1", 5)
	enqueue(t, store, sched, "job2", 1)
	enqueue(t, store, sched, "job3", 5)

	got := drain(t, sched)
	want := []string{"job2", "job1", "job3"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestNextEligibleMarksProcessing(t *testing.T) {
	store, sched := setup(t, 1)
	job := enqueue(t, store, sched, "a.mp4", 5)

	claimed, err := sched.NextEligible(context.Background())
	if err != nil || claimed == nil {
		t.Fatalf("NextEligible = %v, %v", claimed, err)
	}
	stored, _ := store.Get(job.ID)
	if stored.Status != queue.StatusProcessing || stored.StartedAt == nil {
		t.Fatalf("expected processing with startedAt, got %+v", stored)
	}
	if _, ok := sched.Position(job.ID); ok {
		t.Fatal("claimed job must leave the queue")
	}
}

func TestNextEligibleRespectsSlots(t *testing.T) {
	store, sched := setup(t, 1)
	first := enqueue(t, store, sched, "a", 5)
	enqueue(t, store, sched, "b", 5)

	if job, _ := sched.NextEligible(context.Background()); job == nil || job.ID != first.ID {
		t.Fatal("expected first job")
	}
	if job, _ := sched.NextEligible(context.Background()); job != nil {
		t.Fatal("expected no job while slot busy")
	}
	wake := sched.Wait()
	sched.Release(first.ID)
	select {
	case <-wake:
	default:
		t.Fatal("Release must wake waiters")
	}
	if job, _ := sched.NextEligible(context.Background()); job == nil {
		t.Fatal("expected second job after release")
	}
}

func TestNextEligibleConcurrentCallersGetDistinctJobs(t *testing.T) {
	store, sched := setup(t, 64)
	const total = 40
	for i := 0; i < total; i++ {
		enqueue(t, store, sched, "job", 5)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := sched.NextEligible(context.Background())
				if err != nil {
					t.Errorf("NextEligible: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != total {
		t.Fatalf("expected %d distinct jobs, got %d", total, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %s handed out %d times", id, count)
		}
	}
}

func TestReorderAssignsPositions(t *testing.T) {
	store, sched := setup(t, 1)
	a := enqueue(t, store, sched, "A", 5)
	b := enqueue(t, store, sched, "B", 5)
	c := enqueue(t, store, sched, "C", 5)

	changed, err := sched.Reorder(context.Background(), []string{c.ID, a.ID, b.ID})
	if err != nil || !changed {
		t.Fatalf("Reorder = %v, %v", changed, err)
	}
	if pos, _ := sched.Position(c.ID); pos != 1 {
		t.Fatalf("expected C first, got %d", pos)
	}
	stored, _ := store.Get(a.ID)
	if stored.Priority != 2 {
		t.Fatalf("expected persisted priority 2, got %d", stored.Priority)
	}

	again, err := sched.Reorder(context.Background(), []string{c.ID, a.ID, b.ID})
	if err != nil || again {
		t.Fatalf("expected idempotent reorder, got changed=%v err=%v", again, err)
	}

	got := drain(t, sched)
	if len(got) != 3 || got[0] != "C" || got[1] != "A" || got[2] != "B" {
		t.Fatalf("pop order = %v", got)
	}
}

func TestReorderKeepsUnlistedJobs(t *testing.T) {
	store, sched := setup(t, 1)
	a := enqueue(t, store, sched, "A", 5)
	enqueue(t, store, sched, "B", 3)
	c := enqueue(t, store, sched, "C", 5)

	if _, err := sched.Reorder(context.Background(), []string{c.ID, a.ID}); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	got := drain(t, sched)
	if got[0] != "C" || got[1] != "A" || got[2] != "B" {
		t.Fatalf("pop order = %v", got)
	}
}

func TestReorderRejectsStaleIDsAtomically(t *testing.T) {
	store, sched := setup(t, 1)
	a := enqueue(t, store, sched, "A", 5)
	b := enqueue(t, store, sched, "B", 5)

	cases := map[string][]string{
		"unknown":   {b.ID, "missing"},
		"duplicate": {b.ID, b.ID},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := sched.Reorder(context.Background(), ids)
			if !errors.Is(err, services.ErrOrderingConflict) {
				t.Fatalf("expected ordering conflict, got %v", err)
			}
			if pos, _ := sched.Position(a.ID); pos != 1 {
				t.Fatal("rejected reorder must not change the queue")
			}
			if stored, _ := store.Get(b.ID); stored.Priority != 5 {
				t.Fatalf("rejected reorder persisted priority %d", stored.Priority)
			}
		})
	}

	if _, err := sched.Reorder(context.Background(), nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty list, got %v", err)
	}
}

func TestReorderRollsBackOnPersistFailure(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	updater := &flakyUpdater{store: store, failOn: 2}
	sched := scheduler.New(updater, 1, nil)
	a := enqueue(t, store, sched, "A", 5)
	b := enqueue(t, store, sched, "B", 5)
	c := enqueue(t, store, sched, "C", 5)

	changed, err := sched.Reorder(context.Background(), []string{c.ID, b.ID, a.ID})
	if err == nil || changed {
		t.Fatalf("expected failed reorder, got changed=%v err=%v", changed, err)
	}
	for _, job := range []*queue.Job{a, b, c} {
		if stored, _ := store.Get(job.ID); stored.Priority != 5 {
			t.Fatalf("%s persisted priority %d after rollback", job.Filename, stored.Priority)
		}
	}
	snap := sched.Snapshot()
	for i, want := range []string{a.ID, b.ID, c.ID} {
		if snap[i].JobID != want || snap[i].Priority != 5 {
			t.Fatalf("queue changed after failed reorder: %+v", snap)
		}
	}
}

func TestMoveRepositionsOneJob(t *testing.T) {
	store, sched := setup(t, 1)
	a := enqueue(t, store, sched, "A", 5)
	enqueue(t, store, sched, "B", 5)
	c := enqueue(t, store, sched, "C", 5)

	changed, err := sched.Move(context.Background(), c.ID, 1)
	if err != nil || !changed {
		t.Fatalf("Move = %v, %v", changed, err)
	}
	if again, err := sched.Move(context.Background(), c.ID, 1); err != nil || again {
		t.Fatalf("expected repeated move to be a no-op, got changed=%v err=%v", again, err)
	}
	if _, err := sched.Move(context.Background(), a.ID, 99); err != nil {
		t.Fatalf("Move past end: %v", err)
	}
	if _, err := sched.Move(context.Background(), a.ID, 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for position 0, got %v", err)
	}
	if _, err := sched.Move(context.Background(), "missing", 1); !errors.Is(err, services.ErrOrderingConflict) {
		t.Fatalf("expected ordering conflict, got %v", err)
	}
	got := drain(t, sched)
	if len(got) != 3 || got[0] != "C" || got[1] != "B" || got[2] != "A" {
		t.Fatalf("pop order = %v", got)
	}
}

func TestSetPriority(t *testing.T) {
	store, sched := setup(t, 1)
	a := enqueue(t, store, sched, "A", 5)
	b := enqueue(t, store, sched, "B", 5)

	changed, err := sched.SetPriority(context.Background(), b.ID, 2)
	if err != nil || !changed {
		t.Fatalf("SetPriority = %v, %v", changed, err)
	}
	if pos, _ := sched.Position(b.ID); pos != 1 {
		t.Fatalf("expected B first, got %d", pos)
	}
	if changed, _ := sched.SetPriority(context.Background(), b.ID, 2); changed {
		t.Fatal("same priority must be a no-op")
	}
	for _, bad := range []int{0, 11} {
		if _, err := sched.SetPriority(context.Background(), a.ID, bad); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("priority %d: expected validation error, got %v", bad, err)
		}
	}
	if _, err := sched.SetPriority(context.Background(), "missing", 3); !errors.Is(err, services.ErrOrderingConflict) {
		t.Fatalf("expected conflict for unqueued job, got %v", err)
	}
}

func TestRemoveAndStaleEntries(t *testing.T) {
	store, sched := setup(t, 1)
	a := enqueue(t, store, sched, "A", 5)
	b := enqueue(t, store, sched, "B", 5)

	if !sched.Remove(a.ID) || sched.Remove(a.ID) {
		t.Fatal("Remove should succeed once")
	}
	if err := store.Delete(context.Background(), b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	job, err := sched.NextEligible(context.Background())
	if err != nil || job != nil {
		t.Fatalf("expected stale entry dropped, got %v, %v", job, err)
	}
	if sched.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", sched.Len())
	}
}

func TestEnqueueRejectsNonQueued(t *testing.T) {
	_, sched := setup(t, 1)
	err := sched.Enqueue(&queue.Job{ID: "x", Status: queue.StatusCompleted})
	if !errors.Is(err, services.ErrAdmission) {
		t.Fatalf("expected admission error, got %v", err)
	}
}

func TestSnapshotIsSorted(t *testing.T) {
	store, sched := setup(t, 1)
	for _, p := range []int{7, 2, 9, 2, 5} {
		enqueue(t, store, sched, "j", p)
	}
	snap := sched.Snapshot()
	for i := 1; i < len(snap); i++ {
		prev, cur := snap[i-1], snap[i]
		if prev.Priority > cur.Priority || (prev.Priority == cur.Priority && prev.Seq > cur.Seq) {
			t.Fatalf("snapshot out of order at %d: %+v", i, snap)
		}
	}
}
