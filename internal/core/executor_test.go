package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// validateRows stores a session for the given CSV rows and returns its id.
func validateRows(t *testing.T, svc *Service, opts ImportOptions, rows ...string) string {
	t.Helper()
	sum, err := svc.ValidateFile(context.Background(), testEntity, peopleCSV(rows...), "people.csv", opts)
	if err != nil {
		t.Fatalf("ValidateFile failed: %v", err)
	}
	return sum.SessionID
}

func TestExecuteImport_CompletesWithSkippedRow(t *testing.T) {
	reg := NewMemoryRegistry()
	store := newFakeStore()
	svc, _ := newTestService(t, reg, store, ServiceConfig{})

	rows := validPeople(5)
	rows[2] = "user3@example.com,,viewer,1990-01-02,1,yes"
	sessionID := validateRows(t, svc, ImportOptions{}, rows...)

	job, err := svc.ExecuteImport(context.Background(), sessionID, &ImportOptions{ContinueOnError: true}, "actor-1")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}
	if job.Status != JobPending || job.Progress.Total != 5 || job.Progress.Current != 0 {
		t.Errorf("initial job = %s %+v, want pending with total 5", job.Status, job.Progress)
	}

	final := waitForJob(t, svc, job.ID)

	if final.Status != JobCompleted {
		t.Errorf("Status = %s, want completed", final.Status)
	}
	want := JobSummary{Processed: 5, Successful: 4, Failed: 0, Skipped: 1, Created: 4}
	if final.Summary != want {
		t.Errorf("Summary = %+v, want %+v", final.Summary, want)
	}
	if final.Progress.Current != 5 || final.Progress.Percentage != 100 {
		t.Errorf("Progress = %+v, want 5/5 at 100%%", final.Progress)
	}
	if len(final.Errors) != 0 {
		t.Errorf("Errors = %+v, want none", final.Errors)
	}
	if final.CompletedAt == nil || final.Duration == nil {
		t.Error("CompletedAt and Duration must be set on a terminal job")
	}
	if store.count() != 4 {
		t.Errorf("stored records = %d, want 4", store.count())
	}
	if store.actor != "actor-1" {
		t.Errorf("store saw actor %q, want actor-1", store.actor)
	}
	if _, ok, _ := reg.GetSession(context.Background(), sessionID); ok {
		t.Error("session still stored after completed job, want deleted")
	}
}

func TestExecuteImport_AbortsOnFirstFailure(t *testing.T) {
	reg := NewMemoryRegistry()
	store := newFakeStore()
	store.createFn = func(n int, rec Record) error {
		if n == 4 {
			return errors.New("connection reset by peer")
		}
		return nil
	}
	svc, _ := newTestService(t, reg, store, ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(10)...)
	job, err := svc.ExecuteImport(context.Background(), sessionID, &ImportOptions{ContinueOnError: false}, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}

	final := waitForJob(t, svc, job.ID)

	if final.Status != JobFailed {
		t.Errorf("Status = %s, want failed", final.Status)
	}
	if final.Progress.Current != 4 {
		t.Errorf("Progress.Current = %d, want 4", final.Progress.Current)
	}
	if store.creates != 4 {
		t.Errorf("create calls = %d, want 4 (rows 5-10 never processed)", store.creates)
	}
	if len(final.Errors) != 1 {
		t.Fatalf("Errors = %+v, want exactly one", final.Errors)
	}
	rowErr := final.Errors[0]
	if rowErr.RowNumber != DataRowOffset+3 {
		t.Errorf("error RowNumber = %d, want %d (fourth data row)", rowErr.RowNumber, DataRowOffset+3)
	}
	if rowErr.Code != "DB004" {
		t.Errorf("error Code = %q, want DB004", rowErr.Code)
	}
	if rowErr.Row.Text("email") != "user4@example.com" {
		t.Errorf("error Row email = %q, want user4@example.com", rowErr.Row.Text("email"))
	}
	if final.Summary.Failed != 1 || final.Summary.Successful != 3 {
		t.Errorf("Summary = %+v, want 3 successful, 1 failed", final.Summary)
	}
	if !strings.Contains(final.Error, "row 6") {
		t.Errorf("Error = %q, want it to name the failing row", final.Error)
	}
	if _, ok, _ := reg.GetSession(context.Background(), sessionID); !ok {
		t.Error("session deleted after failed job, want kept for retry")
	}
}

func TestExecuteImport_PartialWhenContinuing(t *testing.T) {
	store := newFakeStore()
	store.createFn = func(n int, rec Record) error {
		if n == 2 || n == 5 {
			return errors.New("deadlock detected")
		}
		return nil
	}
	svc, _ := newTestService(t, NewMemoryRegistry(), store, ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(6)...)
	job, err := svc.ExecuteImport(context.Background(), sessionID, &ImportOptions{ContinueOnError: true}, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}

	final := waitForJob(t, svc, job.ID)

	if final.Status != JobPartial {
		t.Errorf("Status = %s, want partial", final.Status)
	}
	if final.Summary.Failed != 2 || final.Summary.Successful != 4 || final.Summary.Processed != 6 {
		t.Errorf("Summary = %+v, want 4 successful, 2 failed of 6", final.Summary)
	}
	if len(final.Errors) != 2 {
		t.Errorf("Errors = %d, want 2", len(final.Errors))
	}
}

func TestExecuteImport_ProgressIsMonotonic(t *testing.T) {
	reg := &recordingRegistry{MemoryRegistry: NewMemoryRegistry()}
	svc, _ := newTestService(t, reg, newFakeStore(), ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(7)...)
	job, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}
	waitForJob(t, svc, job.ID)

	last := -1
	for _, snap := range reg.snapshots() {
		p := snap.Progress
		if p.Percentage < last {
			t.Errorf("percentage went from %d to %d", last, p.Percentage)
		}
		if p.Percentage == 100 && p.Current != p.Total {
			t.Errorf("percentage 100 at %d/%d", p.Current, p.Total)
		}
		last = p.Percentage
	}
	if last != 100 {
		t.Errorf("final percentage = %d, want 100", last)
	}
}

func TestExecuteImport_ZeroRowsCompletesAtFullProgress(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryRegistry(), newFakeStore(), ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{})
	job, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}

	final := waitForJob(t, svc, job.ID)
	if final.Status != JobCompleted {
		t.Errorf("Status = %s, want completed", final.Status)
	}
	if final.Progress.Total != 0 || final.Progress.Percentage != 100 {
		t.Errorf("Progress = %+v, want total 0 at 100%%", final.Progress)
	}
}

func TestExecuteImport_SessionErrors(t *testing.T) {
	reg := NewMemoryRegistry()
	svc, clock := newTestService(t, reg, newFakeStore(), ServiceConfig{})
	ctx := context.Background()

	_, err := svc.ExecuteImport(ctx, "no-such-session", nil, "")
	if !IsExecutionError(err, SessionNotFound) {
		t.Errorf("unknown session err = %v, want SessionNotFound", err)
	}

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(2)...)
	clock.Advance(DefaultSessionTTL + time.Second)

	_, err = svc.ExecuteImport(ctx, sessionID, nil, "")
	if !IsExecutionError(err, SessionExpired) {
		t.Errorf("expired session err = %v, want SessionExpired", err)
	}
	if _, jobs := reg.Counts(); jobs != 0 {
		t.Errorf("jobs = %d, want none created for an expired session", jobs)
	}

	_, err = svc.ExecuteImport(ctx, sessionID, nil, "")
	if !IsExecutionError(err, SessionNotFound) {
		t.Errorf("evicted session err = %v, want SessionNotFound", err)
	}
}

func TestExecuteImport_SessionInUse(t *testing.T) {
	store := newFakeStore()
	started := make(chan struct{})
	release := make(chan struct{})
	store.createFn = func(n int, rec Record) error {
		if n == 1 {
			close(started)
			<-release
		}
		return nil
	}
	svc, _ := newTestService(t, NewMemoryRegistry(), store, ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(2)...)
	job, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}
	<-started

	_, err = svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if !IsExecutionError(err, SessionInUse) {
		t.Errorf("second ExecuteImport err = %v, want SessionInUse", err)
	}

	close(release)
	if final := waitForJob(t, svc, job.ID); final.Status != JobCompleted {
		t.Errorf("Status = %s, want completed", final.Status)
	}
}

func TestExecuteImport_TooManyJobs(t *testing.T) {
	store := newFakeStore()
	started := make(chan struct{})
	release := make(chan struct{})
	store.createFn = func(n int, rec Record) error {
		if n == 1 {
			close(started)
			<-release
		}
		return nil
	}
	svc, _ := newTestService(t, NewMemoryRegistry(), store, ServiceConfig{MaxConcurrentJobs: 1, MaxWaitTime: 20 * time.Millisecond})

	first := validateRows(t, svc, ImportOptions{}, validPeople(1)...)
	second := validateRows(t, svc, ImportOptions{}, "other@example.com,Other,viewer,,,")

	job, err := svc.ExecuteImport(context.Background(), first, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}
	<-started

	_, err = svc.ExecuteImport(context.Background(), second, nil, "")
	if !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("err = %v, want ErrTooManyJobs", err)
	}

	close(release)
	waitForJob(t, svc, job.ID)

	// The rejected session was released and can run now.
	job2, err := svc.ExecuteImport(context.Background(), second, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport after drain failed: %v", err)
	}
	if final := waitForJob(t, svc, job2.ID); final.Status != JobCompleted {
		t.Errorf("Status = %s, want completed", final.Status)
	}
}

func TestExecuteImport_UpdateExisting(t *testing.T) {
	t.Run("store with updater", func(t *testing.T) {
		store := &updatingStore{fakeStore: newFakeStore()}
		store.seed("user1@example.com")
		svc, _ := newTestService(t, NewMemoryRegistry(), store, ServiceConfig{})

		opts := ImportOptions{UpdateExisting: true}
		sessionID := validateRows(t, svc, opts, validPeople(2)...)
		job, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
		if err != nil {
			t.Fatalf("ExecuteImport failed: %v", err)
		}

		final := waitForJob(t, svc, job.ID)
		want := JobSummary{Processed: 2, Successful: 2, Created: 1, Updated: 1}
		if final.Summary != want {
			t.Errorf("Summary = %+v, want %+v", final.Summary, want)
		}
		if store.updates != 1 {
			t.Errorf("updates = %d, want 1", store.updates)
		}
	})

	t.Run("store without updater", func(t *testing.T) {
		store := newFakeStore()
		store.seed("user1@example.com")
		svc, _ := newTestService(t, NewMemoryRegistry(), store, ServiceConfig{})

		sessionID := validateRows(t, svc, ImportOptions{}, validPeople(2)...)
		job, err := svc.ExecuteImport(context.Background(), sessionID, &ImportOptions{UpdateExisting: true}, "")
		if err != nil {
			t.Fatalf("ExecuteImport failed: %v", err)
		}

		final := waitForJob(t, svc, job.ID)
		want := JobSummary{Processed: 2, Successful: 1, Skipped: 1, Created: 1}
		if final.Summary != want {
			t.Errorf("Summary = %+v, want %+v", final.Summary, want)
		}
		if final.Status != JobCompleted {
			t.Errorf("Status = %s, want completed", final.Status)
		}
	})
}

func TestExecuteImport_RevalidatesAgainstStore(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, NewMemoryRegistry(), store, ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(3)...)
	// Another writer adds a record after the preview.
	store.seed("user2@example.com")

	job, err := svc.ExecuteImport(context.Background(), sessionID, &ImportOptions{ContinueOnError: true}, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}

	final := waitForJob(t, svc, job.ID)
	if final.Summary.Created != 2 || final.Summary.Skipped != 1 {
		t.Errorf("Summary = %+v, want 2 created and the new duplicate skipped", final.Summary)
	}
}

func TestCancelJob(t *testing.T) {
	reg := NewMemoryRegistry()
	store := newFakeStore()
	started := make(chan struct{})
	release := make(chan struct{})
	store.createFn = func(n int, rec Record) error {
		if n == 1 {
			close(started)
			<-release
		}
		return nil
	}
	svc, _ := newTestService(t, reg, store, ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(5)...)
	job, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}
	<-started

	if _, err := svc.CancelJob(context.Background(), job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	close(release)

	final := waitForJob(t, svc, job.ID)
	if final.Status != JobCancelled {
		t.Errorf("Status = %s, want cancelled", final.Status)
	}
	if final.Progress.Current != 1 {
		t.Errorf("Progress.Current = %d, want 1 (stopped at the next row boundary)", final.Progress.Current)
	}
	if _, ok, _ := reg.GetSession(context.Background(), sessionID); !ok {
		t.Error("session deleted after cancelled job, want kept")
	}

	// Cancelling a finished job is a no-op.
	again, err := svc.CancelJob(context.Background(), job.ID)
	if err != nil || again.Status != JobCancelled {
		t.Errorf("second CancelJob = %s, %v; want cancelled, nil", again.Status, err)
	}

	if _, err := svc.CancelJob(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("CancelJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestExecuteImport_RecoversFromPanic(t *testing.T) {
	store := newFakeStore()
	store.createFn = func(n int, rec Record) error {
		panic("store exploded")
	}
	svc, _ := newTestService(t, NewMemoryRegistry(), store, ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(2)...)
	job, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}

	final := waitForJob(t, svc, job.ID)
	if final.Status != JobFailed {
		t.Errorf("Status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.Error, "store exploded") {
		t.Errorf("Error = %q, want panic value", final.Error)
	}
	if got := svc.LimiterStatus().Active; got != 0 {
		t.Errorf("active jobs = %d, want slot released after panic", got)
	}
}

func TestExecuteImport_NoStore(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryRegistry(), nil, ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(1)...)
	_, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if !errors.Is(err, ErrNoRecordStore) {
		t.Errorf("err = %v, want ErrNoRecordStore", err)
	}
}

func TestGetJobStatus_NotFound(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryRegistry(), newFakeStore(), ServiceConfig{})

	if _, err := svc.GetJobStatus(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestSubscribeJob(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryRegistry(), newFakeStore(), ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(3)...)
	job, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}

	updates, err := svc.SubscribeJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("SubscribeJob failed: %v", err)
	}

	var last ImportJob
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case snap, ok := <-updates:
			if !ok {
				done = true
				break
			}
			last = snap
		case <-timeout:
			t.Fatal("subscription never closed")
		}
	}
	if last.Status != JobCompleted {
		t.Errorf("last snapshot status = %s, want completed", last.Status)
	}
}

// gatedRegistry blocks the next GetJob after reading its snapshot until
// the gate is released.
type gatedRegistry struct {
	*MemoryRegistry
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (r *gatedRegistry) holdNextGet() (entered, release chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = make(chan struct{})
	r.entered = make(chan struct{})
	return r.entered, r.gate
}

func (r *gatedRegistry) GetJob(ctx context.Context, id string) (ImportJob, bool, error) {
	job, ok, err := r.MemoryRegistry.GetJob(ctx, id)

	r.mu.Lock()
	gate, entered := r.gate, r.entered
	r.gate, r.entered = nil, nil
	r.mu.Unlock()

	if gate != nil {
		close(entered)
		<-gate
	}
	return job, ok, err
}

// nextSnapshot reads one snapshot or fails after a timeout.
func nextSnapshot(t *testing.T, updates <-chan ImportJob) (ImportJob, bool) {
	t.Helper()
	select {
	case snap, ok := <-updates:
		return snap, ok
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot received")
		return ImportJob{}, false
	}
}

func TestSubscribeJob_LateSubscriberKeepsOthersMonotonic(t *testing.T) {
	reg := &gatedRegistry{MemoryRegistry: NewMemoryRegistry()}
	store := newFakeStore()
	started := make(chan struct{})
	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})
	store.createFn = func(n int, rec Record) error {
		switch n {
		case 1:
			close(started)
			<-releaseFirst
		case 2:
			<-releaseSecond
		}
		return nil
	}
	svc, _ := newTestService(t, reg, store, ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(3)...)
	job, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}
	<-started

	first, err := svc.SubscribeJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("SubscribeJob failed: %v", err)
	}
	snap, _ := nextSnapshot(t, first)
	seen := []int{snap.Progress.Current}

	// A second subscriber whose registry read stalls while row 1 lands.
	entered, releaseGet := reg.holdNextGet()
	type result struct {
		ch  <-chan ImportJob
		err error
	}
	late := make(chan result, 1)
	go func() {
		ch, err := svc.SubscribeJob(context.Background(), job.ID)
		late <- result{ch, err}
	}()

	var second result
	select {
	case <-entered:
	case second = <-late:
	case <-time.After(5 * time.Second):
		t.Fatal("second SubscribeJob neither returned nor read the registry")
	}

	close(releaseFirst)
	for seen[len(seen)-1] < 1 {
		snap, ok := nextSnapshot(t, first)
		if !ok {
			t.Fatal("subscription closed before row 1 finished")
		}
		seen = append(seen, snap.Progress.Current)
	}

	close(releaseGet)
	if second.ch == nil {
		second = <-late
	}
	if second.err != nil {
		t.Fatalf("second SubscribeJob failed: %v", second.err)
	}
	close(releaseSecond)

	var last ImportJob
	for {
		snap, ok := nextSnapshot(t, first)
		if !ok {
			break
		}
		seen = append(seen, snap.Progress.Current)
		last = snap
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("first subscriber progress went backwards: %v", seen)
		}
	}
	if last.Status != JobCompleted {
		t.Errorf("last snapshot status = %s, want completed", last.Status)
	}

	prev := -1
	for {
		snap, ok := nextSnapshot(t, second.ch)
		if !ok {
			break
		}
		if snap.Progress.Current < prev {
			t.Fatalf("second subscriber progress went backwards: %d after %d", snap.Progress.Current, prev)
		}
		prev = snap.Progress.Current
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	store := newFakeStore()
	started := make(chan struct{})
	release := make(chan struct{})
	store.createFn = func(n int, rec Record) error {
		if n == 1 {
			close(started)
			<-release
		}
		return nil
	}
	reg := NewMemoryRegistry()
	svc, _ := newTestService(t, reg, store, ServiceConfig{})

	sessionID := validateRows(t, svc, ImportOptions{}, validPeople(3)...)
	job, err := svc.ExecuteImport(context.Background(), sessionID, nil, "")
	if err != nil {
		t.Fatalf("ExecuteImport failed: %v", err)
	}
	<-started

	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errc <- svc.Shutdown(ctx)
	}()
	close(release)

	if err := <-errc; err != nil {
		t.Fatalf("Shutdown = %v, want nil", err)
	}
	got, _ := svc.GetJobStatus(context.Background(), job.ID)
	if got.Status != JobCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}
}
