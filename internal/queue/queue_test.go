package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aperisolve/core/dbopen"
	_ "modernc.org/sqlite"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return New(db)
}

func TestEnqueuePollComplete(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "subfp1", 300*time.Second)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == 0 {
		t.Fatalf("Enqueue: zero job id")
	}

	job, err := q.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if job == nil {
		t.Fatal("Poll: expected a job")
	}
	if job.SubmissionFP != "subfp1" {
		t.Fatalf("SubmissionFP = %q", job.SubmissionFP)
	}
	if job.Status != StatusProcessing {
		t.Fatalf("Status = %q, want processing", job.Status)
	}
	if job.TimeoutSeconds != 300 {
		t.Fatalf("TimeoutSeconds = %d, want 300", job.TimeoutSeconds)
	}

	// The claimed job must not be handed out again.
	again, err := q.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll again: %v", err)
	}
	if again != nil {
		t.Fatalf("Poll again: expected empty queue, got %+v", again)
	}

	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestPollEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	job, err := q.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if job != nil {
		t.Fatalf("Poll: expected nil on an empty queue, got %+v", job)
	}
}

func TestFailRecordsError(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "subfp2", time.Minute); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := q.Poll(ctx)
	if err != nil || job == nil {
		t.Fatalf("Poll: %v, %v", job, err)
	}
	if err := q.Fail(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	var status, errMsg string
	if err := q.db.QueryRow(`SELECT status, error FROM jobs WHERE id = ?`, job.ID).Scan(&status, &errMsg); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != string(StatusFailed) || errMsg != "boom" {
		t.Fatalf("status = %q, error = %q", status, errMsg)
	}
}

func TestPollClaimsOldestFirst(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "first", time.Minute); err != nil {
		t.Fatalf("Enqueue first: %v", err)
	}
	if _, err := q.Enqueue(ctx, "second", time.Minute); err != nil {
		t.Fatalf("Enqueue second: %v", err)
	}

	job, err := q.Poll(ctx)
	if err != nil || job == nil {
		t.Fatalf("Poll: %v, %v", job, err)
	}
	if job.SubmissionFP != "first" {
		t.Fatalf("Poll claimed %q, want first", job.SubmissionFP)
	}
}

func TestResetStuckRunning(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "subfp3", time.Minute); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	n, err := ResetStuckRunning(ctx, q.db)
	if err != nil {
		t.Fatalf("ResetStuckRunning: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset %d jobs, want 1", n)
	}

	job, err := q.Poll(ctx)
	if err != nil || job == nil {
		t.Fatalf("Poll after reset: %v, %v", job, err)
	}
	if job.SubmissionFP != "subfp3" {
		t.Fatalf("Poll after reset claimed %q", job.SubmissionFP)
	}
}
