package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/tbourn/go-doppel-bot/internal/domain"
	"github.com/tbourn/go-doppel-bot/internal/repo"
)

func newTrainer(store *memStore, col *fakeCollector, ft *fakeFineTuner) *TrainingService {
	return NewTrainingService(store, col, ft, NewRunner())
}

func TestRun_SuccessWalksEveryState(t *testing.T) {
	store := newMemStore()
	col := &fakeCollector{samples: 42}
	ft := &fakeFineTuner{}
	svc := newTrainer(store, col, ft)

	before := testutil.ToFloat64(trainingJobs.WithLabelValues(outcomeSucceeded))

	rec := &recorder{}
	res, err := svc.Run(context.Background(), "T1", "bob", "xoxb", rec.progress)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTrained || res.Samples != 42 {
		t.Fatalf("result = %+v", res)
	}

	j, err := store.Get(context.Background(), "T1", "bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.State != domain.JobStateSucceeded || j.Samples != 42 {
		t.Fatalf("job = %+v", j)
	}

	msgs := rec.all()
	if len(msgs) != 3 {
		t.Fatalf("progress = %q", msgs)
	}
	if msgs[0] != "Began collecting bob's messages." {
		t.Fatalf("msg0 = %q", msgs[0])
	}
	if msgs[1] != "Finished collecting bob's messages, 42 samples found, starting training." {
		t.Fatalf("msg1 = %q", msgs[1])
	}
	if !strings.HasPrefix(msgs[2], "Finished training bob after ") || !strings.HasSuffix(msgs[2], " seconds.") {
		t.Fatalf("msg2 = %q", msgs[2])
	}
	if got := testutil.ToFloat64(trainingJobs.WithLabelValues(outcomeSucceeded)) - before; got != 1 {
		t.Fatalf("succeeded counter delta = %v", got)
	}
}

func TestRun_CollectionFailureRollsBack(t *testing.T) {
	store := newMemStore()
	col := &fakeCollector{err: errors.New("history unavailable")}
	ft := &fakeFineTuner{}
	svc := newTrainer(store, col, ft)

	rec := &recorder{}
	_, err := svc.Run(context.Background(), "T1", "alice", "xoxb", rec.progress)
	if !errors.Is(err, ErrCollectionFailed) {
		t.Fatalf("err = %v, want ErrCollectionFailed", err)
	}
	if _, gerr := store.Get(context.Background(), "T1", "alice"); !errors.Is(gerr, repo.ErrNotFound) {
		t.Fatalf("job still present after rollback: %v", gerr)
	}
	if ft.calls != 0 {
		t.Fatal("fine-tuner must not run after a collection failure")
	}
	msgs := rec.all()
	last := msgs[len(msgs)-1]
	if !strings.Contains(last, "history unavailable") || !strings.HasPrefix(last, "Failed to train alice") {
		t.Fatalf("failure message = %q", last)
	}

	// The pair can be registered again.
	col.err, col.samples = nil, 3
	if _, err := svc.Run(context.Background(), "T1", "alice", "xoxb", nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRun_TrainingFailureRollsBack(t *testing.T) {
	store := newMemStore()
	svc := newTrainer(store, &fakeCollector{samples: 5}, &fakeFineTuner{err: errors.New("gpu oom")})

	_, err := svc.Run(context.Background(), "T1", "carol", "xoxb", nil)
	if !errors.Is(err, ErrTrainingFailed) {
		t.Fatalf("err = %v", err)
	}
	if store.deletes != 1 {
		t.Fatalf("deletes = %d", store.deletes)
	}
	if _, gerr := store.Get(context.Background(), "T1", "carol"); !errors.Is(gerr, repo.ErrNotFound) {
		t.Fatal("job should be gone")
	}
}

func TestRun_LiveJobShortCircuits(t *testing.T) {
	store := newMemStore()
	store.put(domain.TrainingJob{TeamID: "T1", UserKey: "bob", State: domain.JobStateTraining, UpdatedAt: time.Now()})
	col := &fakeCollector{samples: 1}
	svc := newTrainer(store, col, &fakeFineTuner{})

	rec := &recorder{}
	res, err := svc.Run(context.Background(), "T1", "bob", "xoxb", rec.progress)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeAlreadyRegistered || res.Existing == nil || res.Existing.State != domain.JobStateTraining {
		t.Fatalf("result = %+v", res)
	}
	if col.calls != 0 {
		t.Fatal("collector called for a duplicate")
	}
	if got := rec.all(); len(got) != 1 || got[0] != "Team T1 already has bob registered (state=training)." {
		t.Fatalf("progress = %q", got)
	}
	if store.deletes != 0 {
		t.Fatal("duplicate must not delete the live job")
	}
}

func TestRun_TerminalJobIsRetrained(t *testing.T) {
	store := newMemStore()
	store.put(domain.TrainingJob{TeamID: "T1", UserKey: "bob", State: domain.JobStateSucceeded, Samples: 9})
	svc := newTrainer(store, &fakeCollector{samples: 11}, &fakeFineTuner{})

	res, err := svc.Run(context.Background(), "T1", "bob", "xoxb", nil)
	if err != nil || res.Outcome != OutcomeTrained {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	j, _ := store.Get(context.Background(), "T1", "bob")
	if j.Samples != 11 {
		t.Fatalf("samples = %d", j.Samples)
	}
}

func TestRun_RegistrationErrorDoesNotRollBack(t *testing.T) {
	store := newMemStore()
	store.insertErr = errors.New("db down")
	svc := newTrainer(store, &fakeCollector{}, &fakeFineTuner{})

	rec := &recorder{}
	_, err := svc.Run(context.Background(), "T1", "bob", "xoxb", rec.progress)
	if !errors.Is(err, ErrJobStore) {
		t.Fatalf("err = %v", err)
	}
	if store.deletes != 0 {
		t.Fatal("nothing registered, nothing to delete")
	}
	if len(rec.all()) != 1 {
		t.Fatalf("progress = %q", rec.all())
	}
}

func TestRun_StateWriteFailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.updateErr = errors.New("disk full")
	svc := newTrainer(store, &fakeCollector{}, &fakeFineTuner{})

	_, err := svc.Run(context.Background(), "T1", "bob", "xoxb", nil)
	if !errors.Is(err, ErrJobStore) {
		t.Fatalf("err = %v", err)
	}
	if store.deletes != 1 {
		t.Fatalf("deletes = %d", store.deletes)
	}
}

func TestStart_DetachedRunTimesOutAndFreesPair(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemStore()
	svc := newTrainer(store, &fakeCollector{block: true}, &fakeFineTuner{})
	svc.Timeout = 20 * time.Millisecond

	var failures atomic.Int32
	var failure error
	svc.OnFailure = func(team, user string, err error) {
		failures.Add(1)
		failure = err
	}

	// The request context is cancelled immediately; the run must survive it.
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	if err := svc.Start(ctx, "T1", "dave", "xoxb", rec.progress); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	waitCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := svc.Runner.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if failures.Load() != 1 || !errors.Is(failure, context.DeadlineExceeded) {
		t.Fatalf("failures=%d err=%v", failures.Load(), failure)
	}
	msgs := rec.all()
	if last := msgs[len(msgs)-1]; last != "Failed to train dave (timed out). Try again in a bit!" {
		t.Fatalf("last progress = %q", last)
	}
	if _, err := store.Get(context.Background(), "T1", "dave"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatal("timed out job should be rolled back")
	}
}

// gatedCollector blocks every collection until release is closed.
type gatedCollector struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *gatedCollector) Collect(ctx context.Context, user, team, token string) (int, error) {
	c.calls.Add(1)
	select {
	case <-c.release:
		return 7, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestStart_BackToBackStartsCollectOnce(t *testing.T) {
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	col := &gatedCollector{release: make(chan struct{})}
	svc := NewTrainingService(repo.NewSQLJobStore(db), col, &fakeFineTuner{}, NewRunner())

	rec := &recorder{}
	for i := 0; i < 2; i++ {
		if err := svc.Start(context.Background(), "T1", "bob", "xoxb", rec.progress); err != nil {
			t.Fatalf("Start #%d: %v", i+1, err)
		}
	}

	// Hold the winner in collection until the loser has reported.
	deadline := time.Now().Add(5 * time.Second)
	for countPrefix(rec.all(), "Team T1 already has bob registered (state=") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("second start never reported the live job; progress = %q", rec.all())
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(col.release)

	waitCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := svc.Runner.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := col.calls.Load(); got != 1 {
		t.Fatalf("expected one collection, got %d", got)
	}
	if n := countPrefix(rec.all(), "Team T1 already has bob registered"); n != 1 {
		t.Fatalf("expected one duplicate report, got %d in %q", n, rec.all())
	}
	j, err := svc.Store.Get(context.Background(), "T1", "bob")
	if err != nil || j.State != domain.JobStateSucceeded || j.Samples != 7 {
		t.Fatalf("job = %+v err=%v", j, err)
	}
}

func countPrefix(msgs []string, prefix string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func TestStart_AfterShutdown(t *testing.T) {
	svc := newTrainer(newMemStore(), &fakeCollector{}, &fakeFineTuner{})
	svc.Runner.Close()
	if err := svc.Start(context.Background(), "T1", "bob", "", nil); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("err = %v", err)
	}
}

func TestFailedText(t *testing.T) {
	if got := failedText("bob", errors.New("boom")); got != "Failed to train bob (boom). Try again in a bit!" {
		t.Fatalf("got %q", got)
	}
}
