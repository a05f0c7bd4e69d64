package core

// executor.go runs import jobs.
//
// ExecuteImport reserves the session and a limiter slot, registers a
// pending job and hands the rows to a background worker. The worker
// re-validates each row (the store may have changed since the preview),
// writes it, and publishes progress after every row. Only the worker
// mutates its job; everyone else reads registry snapshots.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ExecuteImport starts a background job for a validated session and returns
// the job as created. opts overrides the options used at validation time;
// nil reuses them.
func (s *Service) ExecuteImport(ctx context.Context, sessionID string, opts *ImportOptions, actorID string) (ImportJob, error) {
	sess, ok, err := s.registry.GetSession(ctx, sessionID)
	if err != nil {
		return ImportJob{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return ImportJob{}, &ExecutionError{Kind: SessionNotFound, SessionID: sessionID}
	}
	if sess.Expired(s.now()) {
		if err := s.registry.DeleteSession(ctx, sessionID); err != nil {
			s.logger.Warn("evict expired session failed", "session_id", sessionID, "error", err)
		}
		return ImportJob{}, &ExecutionError{Kind: SessionExpired, SessionID: sessionID}
	}

	def, err := Lookup(sess.EntityKey)
	if err != nil {
		return ImportJob{}, err
	}
	store, err := s.storeFor(sess.EntityKey)
	if err != nil {
		return ImportJob{}, err
	}

	effective := sess.Options
	if opts != nil {
		effective = *opts
	}

	if !s.reserveSession(sessionID) {
		return ImportJob{}, &ExecutionError{Kind: SessionInUse, SessionID: sessionID}
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		s.releaseSession(sessionID)
		return ImportJob{}, err
	}

	now := s.now()
	job := ImportJob{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		EntityKey: def.Info.Key,
		ActorID:   actorID,
		Status:    JobPending,
		Progress:  JobProgress{Total: len(sess.Rows)},
		Errors:    []JobRowError{},
		CreatedAt: now,
		StartedAt: now,
	}
	if err := s.registry.PutJob(ctx, job); err != nil {
		s.limiter.Release()
		s.releaseSession(sessionID)
		return ImportJob{}, fmt.Errorf("register job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(s.baseCtx)
	if s.cfg.JobTimeout > 0 {
		var timeoutCancel context.CancelFunc
		jobCtx, timeoutCancel = context.WithTimeout(jobCtx, s.cfg.JobTimeout)
		parentCancel := cancel
		cancel = func() {
			timeoutCancel()
			parentCancel()
		}
	}
	jobCtx = ContextWithActor(jobCtx, actorID)

	active := &activeJob{cancel: cancel, done: make(chan struct{}), latest: job.Clone()}
	s.mu.Lock()
	s.running[job.ID] = active
	s.sessions[sessionID] = job.ID
	s.mu.Unlock()

	s.logger.Info("import job created",
		"job_id", job.ID,
		"session_id", sessionID,
		"entity", def.Info.Key,
		"actor_id", actorID,
		"rows", job.Progress.Total,
	)

	go s.runJob(jobCtx, active, job.ID, sess, def, store, effective)

	return job.Clone(), nil
}

// GetJobStatus returns a snapshot of a job.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (ImportJob, error) {
	job, ok, err := s.registry.GetJob(ctx, jobID)
	if err != nil {
		return ImportJob{}, fmt.Errorf("load job: %w", err)
	}
	if !ok {
		return ImportJob{}, ErrJobNotFound
	}
	return job, nil
}

// CancelJob asks a running job to stop at the next row boundary and
// returns its current snapshot. Cancelling a finished job is a no-op.
func (s *Service) CancelJob(ctx context.Context, jobID string) (ImportJob, error) {
	s.mu.Lock()
	active := s.running[jobID]
	s.mu.Unlock()

	if active != nil {
		active.cancel()
		s.logger.Info("import job cancel requested", "job_id", jobID)
	}
	return s.GetJobStatus(ctx, jobID)
}

// SubscribeJob returns a channel of job snapshots. The latest published
// snapshot is sent immediately; the channel is closed when the job finishes.
func (s *Service) SubscribeJob(ctx context.Context, jobID string) (<-chan ImportJob, error) {
	ch := make(chan ImportJob, 16)

	s.mu.Lock()
	active := s.running[jobID]
	s.mu.Unlock()

	if active != nil && active.subscribe(ch) {
		return ch, nil
	}

	job, err := s.GetJobStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ch <- job
	close(ch)
	return ch, nil
}

// Done returns a channel closed when the job's worker exits, or nil if the
// job is not running.
func (s *Service) Done(jobID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active := s.running[jobID]; active != nil {
		return active.done
	}
	return nil
}

func (s *Service) reserveSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.sessions[sessionID]; busy {
		return false
	}
	s.sessions[sessionID] = ""
	return true
}

func (s *Service) releaseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// jobTally is the worker's local view of progress, folded into the
// registry copy after every row.
type jobTally struct {
	summary JobSummary
	errors  []JobRowError
}

// runJob is the background worker for one job.
func (s *Service) runJob(ctx context.Context, active *activeJob, jobID string, sess ValidationSession, def EntityDefinition, store RecordStore, opts ImportOptions) {
	logger := s.logger.With("job_id", jobID, "session_id", sess.ID, "entity", def.Info.Key)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("import job panicked", "panic", r)
			s.finish(ctx, logger, active, jobID, JobFailed, fmt.Sprintf("internal error: %v", r))
		}

		active.cancel()
		s.mu.Lock()
		delete(s.running, jobID)
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
		s.limiter.Release()

		active.closeListeners()
		close(active.done)
	}()

	// Registry writes must land even after the job context is cancelled.
	stateCtx := context.WithoutCancel(ctx)

	job, err := s.registry.UpdateJob(stateCtx, jobID, func(j *ImportJob) {
		j.Status = JobProcessing
		j.StartedAt = s.now()
	})
	if err != nil {
		logger.Error("start import job failed", "error", err)
		return
	}
	active.notify(job)
	logger.Info("import job started", "rows", len(sess.Rows))

	validator := NewRowValidator(def, store, logger)
	validator.now = s.now
	updater, canUpdate := store.(RecordUpdater)

	var (
		status  JobStatus
		message string
		failed  int
	)

	for i, row := range sess.Rows {
		if err := ctx.Err(); err != nil {
			status, message = interruptedStatus(err)
			break
		}

		num := rowNumber(row, i)
		outcome := validator.Validate(ctx, row, num, opts)

		var (
			tally  jobTally
			rowErr error
		)
		switch outcome.Action {
		case ActionCreate:
			if rowErr = store.Create(ctx, outcome.Data); rowErr == nil {
				tally.summary.Successful++
				tally.summary.Created++
			}
		case ActionUpdate:
			if !canUpdate {
				logger.Warn("store cannot update records, skipping duplicate row", "row", num)
				tally.summary.Skipped++
				break
			}
			key := cellString(outcome.Data[def.Info.UniqueKey])
			if rowErr = updater.Update(ctx, key, outcome.Data); rowErr == nil {
				tally.summary.Successful++
				tally.summary.Updated++
			}
		default:
			tally.summary.Skipped++
		}

		if rowErr != nil && ctx.Err() != nil {
			status, message = interruptedStatus(ctx.Err())
			break
		}
		if rowErr != nil {
			failed++
			tally.summary.Failed++
			tally.errors = append(tally.errors, JobRowError{
				RowNumber: num,
				Row:       row,
				Message:   rowErr.Error(),
				Code:      MapError(rowErr).Code,
			})
			logger.Warn("import row failed", "row", num, "error", rowErr)
		}
		tally.summary.Processed++

		now := s.now()
		job, err = s.registry.UpdateJob(stateCtx, jobID, func(j *ImportJob) {
			j.Summary.Processed += tally.summary.Processed
			j.Summary.Successful += tally.summary.Successful
			j.Summary.Failed += tally.summary.Failed
			j.Summary.Skipped += tally.summary.Skipped
			j.Summary.Created += tally.summary.Created
			j.Summary.Updated += tally.summary.Updated
			j.Errors = append(j.Errors, tally.errors...)
			j.advance(now)
		})
		if err != nil {
			logger.Error("record job progress failed", "error", err)
			status, message = JobFailed, "job record lost"
			break
		}
		active.notify(job)

		if rowErr != nil && !opts.ContinueOnError {
			status = JobFailed
			message = fmt.Sprintf("row %d failed: %v", num, rowErr)
			break
		}
	}

	if status == "" {
		status = JobCompleted
		if failed > 0 {
			status = JobPartial
		}
	}

	s.finish(ctx, logger, active, jobID, status, message)

	if status == JobCompleted || status == JobPartial {
		if err := s.registry.DeleteSession(stateCtx, sess.ID); err != nil {
			logger.Warn("delete executed session failed", "error", err)
		}
	}
}

// finish moves the job to its terminal status. It uses a context detached
// from the job so cancelled jobs can still record their outcome.
func (s *Service) finish(ctx context.Context, logger *slog.Logger, active *activeJob, jobID string, status JobStatus, message string) {
	now := s.now()
	job, err := s.registry.UpdateJob(context.WithoutCancel(ctx), jobID, func(j *ImportJob) {
		if j.Status.Terminal() {
			return
		}
		j.Error = message
		j.finish(status, now)
	})
	if err != nil {
		logger.Error("finish import job failed", "status", status, "error", err)
		return
	}
	active.notify(job)

	attrs := []any{
		"status", job.Status,
		"processed", job.Summary.Processed,
		"successful", job.Summary.Successful,
		"failed", job.Summary.Failed,
		"skipped", job.Summary.Skipped,
	}
	if job.Duration != nil {
		attrs = append(attrs, "duration_ms", job.Duration.Milliseconds())
	}
	if job.Status == JobFailed {
		logger.Error("import job failed", append(attrs, "error", job.Error)...)
		return
	}
	logger.Info("import job finished", attrs...)
}

// interruptedStatus maps a done context to a terminal status.
func interruptedStatus(err error) (JobStatus, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return JobFailed, "job timed out"
	}
	return JobCancelled, "job cancelled"
}
