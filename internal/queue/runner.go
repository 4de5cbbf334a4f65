package queue

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// Handler processes one submission fingerprint. The runner passes it a
// context that expires after the job's timeout_seconds; the Handler
// implementation (internal/worker.Worker.ProcessSubmission) hands that
// context down to every analyzer.
type Handler func(ctx context.Context, submissionFP string) error

// Runner polls a Queue on an interval and dispatches each claimed job to a
// Handler using a ticker-driven loop.
type Runner struct {
	queue  *Queue
	logger *slog.Logger
	handle Handler
	poll   time.Duration
}

// NewRunner builds a Runner. poll is the interval between queue checks when
// idle; 0 defaults to 1 second.
func NewRunner(q *Queue, logger *slog.Logger, handle Handler, poll time.Duration) *Runner {
	if poll <= 0 {
		poll = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{queue: q, logger: logger, handle: handle, poll: poll}
}

// Run blocks, dispatching jobs until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("queue runner stopping")
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain processes every pending job currently visible, one at a time, so a
// burst of uploads does not wait a full tick per submission.
func (r *Runner) drain(ctx context.Context) {
	for {
		job, err := r.queue.Poll(ctx)
		if err != nil {
			r.logger.Error("queue poll failed", "error", err)
			return
		}
		if job == nil {
			return
		}

		log := r.logger.With("job_id", job.ID, "submission_fp", job.SubmissionFP)
		log.Info("job claimed")

		jobCtx, cancel := context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
		err = r.handle(jobCtx, job.SubmissionFP)
		cancel()

		if err != nil {
			log.Error("job failed", "error", err)
			if failErr := r.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
				log.Error("failed to mark job failed", "error", failErr)
			}
			continue
		}
		if completeErr := r.queue.Complete(ctx, job.ID); completeErr != nil {
			log.Error("failed to mark job complete", "error", completeErr)
		} else {
			log.Info("job completed")
		}
	}
}

// ResetStuckRunning resets any job left in "processing" back to "pending",
// used at startup when CLEAR_AT_RESTART-style recovery is needed after an
// unclean shutdown; it runs once at boot since this queue has only one
// consumer.
func ResetStuckRunning(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE status = ?`, StatusPending, StatusProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
