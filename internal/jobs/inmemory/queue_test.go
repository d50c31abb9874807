package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/statement-analytics/internal/jobs"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/google/go-cmp/cmp"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), logger.Nop()))
	t.Cleanup(cancel)
	return ctx
}

func waitTerminal(t *testing.T, store *Store, jobID string) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return nil
}

func newTestQueue(store *Store) *Queue {
	q := NewQueue(10, store)
	q.Workers = 2
	q.Backoff = func(int) time.Duration { return time.Millisecond }
	return q
}

func TestQueue_CompletesJob(t *testing.T) {
	ctx := testContext(t)
	store := NewStore()
	q := newTestQueue(store)
	defer q.Close()

	if err := q.Start(ctx, func(_ context.Context, job *jobs.Job) error {
		job.Transactions = 3
		job.RunID = "run-1"
		return nil
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.Job{Type: jobs.JobTypeIngest, StatementID: "stmt-1"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if job.JobID == "" || job.Status != jobs.JobStatusPending || job.MaxRetries != jobs.DefaultMaxRetries {
		t.Errorf("Publish did not fill defaults: %+v", job)
	}

	got := waitTerminal(t, store, job.JobID)
	if got.Status != jobs.JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Transactions != 3 || got.RunID != "run-1" {
		t.Errorf("handler results not saved: %+v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not set")
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	ctx := testContext(t)
	store := NewStore()
	q := newTestQueue(store)
	defer q.Close()

	var calls atomic.Int32
	if err := q.Start(ctx, func(context.Context, *jobs.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.Job{Type: jobs.JobTypeTrain, MaxRetries: 2}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := waitTerminal(t, store, job.JobID)
	if got.Status != jobs.JobStatusCompleted || got.RetryCount != 1 || got.Error != "" {
		t.Errorf("got status %s retries %d error %q", got.Status, got.RetryCount, got.Error)
	}
}

func TestQueue_FailsAfterMaxRetries(t *testing.T) {
	ctx := testContext(t)
	store := NewStore()
	q := newTestQueue(store)
	defer q.Close()

	if err := q.Start(ctx, func(context.Context, *jobs.Job) error {
		panic("bad statement")
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.Job{Type: jobs.JobTypeIngest, MaxRetries: 1}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := waitTerminal(t, store, job.JobID)
	if got.Status != jobs.JobStatusFailed || got.RetryCount != 1 {
		t.Errorf("got status %s retries %d", got.Status, got.RetryCount)
	}
	if got.Error != "job handler panic: bad statement" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := q.Publish(context.Background(), &jobs.Job{}); !errors.Is(err, jobs.ErrQueueClosed) {
		t.Errorf("Publish() error = %v, want ErrQueueClosed", err)
	}
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, j := range []*jobs.Job{
		{JobID: "a", Type: jobs.JobTypeIngest, StatementID: "s1", Status: jobs.JobStatusCompleted},
		{JobID: "b", Type: jobs.JobTypeTrain, Status: jobs.JobStatusFailed},
		{JobID: "c", Type: jobs.JobTypeIngest, StatementID: "s2", Status: jobs.JobStatusCompleted},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob() error = %v", err)
		}
	}

	ids := func(js []*jobs.Job) []string {
		out := []string{}
		for _, j := range js {
			out = append(out, j.JobID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"c", "b", "a"}},
		{"by type", jobs.JobFilter{Type: jobs.JobTypeIngest}, []string{"c", "a"}},
		{"by statement", jobs.JobFilter{StatementID: "s1"}, []string{"a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusFailed}, []string{"b"}},
		{"limit offset", jobs.JobFilter{Offset: 1, Limit: 1}, []string{"b"}},
		{"offset past end", jobs.JobFilter{Offset: 5}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("ListJobs mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrJobNotFound", err)
	}
	if err := store.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "rerun"); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	if got, _ := store.GetJob(ctx, "a"); got.Status != jobs.JobStatusFailed || got.Error != "rerun" {
		t.Errorf("after update got %+v", got)
	}
}

func TestQueue_PermanentErrorSkipsRetries(t *testing.T) {
	ctx := testContext(t)
	store := NewStore()
	q := newTestQueue(store)
	defer q.Close()

	var calls atomic.Int32
	if err := q.Start(ctx, func(context.Context, *jobs.Job) error {
		calls.Add(1)
		return jobs.Permanent(errors.New("no transaction tables found"))
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.Job{Type: jobs.JobTypeIngest}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := waitTerminal(t, store, job.JobID)
	if got.Status != jobs.JobStatusFailed || got.RetryCount != 0 {
		t.Errorf("got status %s retries %d", got.Status, got.RetryCount)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestStore_RetentionKeepsUnfinishedJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.Retention = 2
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	save := func(id string, status jobs.JobStatus, hour int) {
		t.Helper()
		completed := base.Add(time.Duration(hour) * time.Hour)
		j := &jobs.Job{JobID: id, Type: jobs.JobTypeIngest, StatementID: "s1", Status: status, CreatedAt: base}
		if status == jobs.JobStatusCompleted || status == jobs.JobStatusFailed {
			j.CompletedAt = &completed
		}
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob(%s) error = %v", id, err)
		}
	}
	save("old", jobs.JobStatusCompleted, 1)
	save("pending", jobs.JobStatusPending, 0)
	save("mid", jobs.JobStatusFailed, 2)
	save("new", jobs.JobStatusCompleted, 3)

	if _, err := store.GetJob(ctx, "old"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("GetJob(old) error = %v, want ErrJobNotFound", err)
	}
	got, err := store.ListJobs(ctx, jobs.JobFilter{StatementID: "s1"})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	var ids []string
	for _, j := range got {
		ids = append(ids, j.JobID)
	}
	if diff := cmp.Diff([]string{"mid", "new", "pending"}, ids); diff != "" {
		t.Errorf("statement jobs mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_UpdateJobStatusStampsCompletion(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	done := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return done }

	if err := store.SaveJob(ctx, &jobs.Job{JobID: "a", Type: jobs.JobTypeTrain, Status: jobs.JobStatusRunning}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateJobStatus(ctx, "a", jobs.JobStatusRetrying, ""); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetJob(ctx, "a"); got.CompletedAt != nil {
		t.Errorf("retrying job has CompletedAt %v", got.CompletedAt)
	}
	if err := store.UpdateJobStatus(ctx, "a", jobs.JobStatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetJob(ctx, "a"); got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
	}
}
