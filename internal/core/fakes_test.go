package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

const testEntity = "people"

var registerTestEntity sync.Once

// testDefinition registers and returns the entity used across core tests.
func testDefinition(t testing.TB) EntityDefinition {
	t.Helper()
	registerTestEntity.Do(func() {
		Register(EntityDefinition{
			Info: EntityInfo{Key: testEntity, Label: "People", Table: "people", UniqueKey: "email"},
			FieldSpecs: []FieldSpec{
				{Name: "email", Type: FieldEmail, Required: true, Normalizer: strings.ToLower, Example: "ada@example.com"},
				{Name: "name", Type: FieldText, Required: true, Example: "Ada"},
				{Name: "role", Type: FieldEnum, EnumValues: []string{"admin", "viewer"}, Example: "admin"},
				{Name: "birth_date", Type: FieldDate, NotFuture: true, Example: "1990-01-02"},
				{Name: "score", Type: FieldNumeric, Example: "12.5"},
				{Name: "active", Type: FieldBool, Example: "yes"},
			},
		})
	})
	def, ok := Get(testEntity)
	if !ok {
		t.Fatalf("test entity %q not registered", testEntity)
	}
	return def
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory RecordStore with hooks for failure injection.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]Record
	creates  int
	lookups  int
	actor    string
	findErr  error
	createFn func(n int, rec Record) error // n is the 1-based create call
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func (f *fakeStore) Create(ctx context.Context, rec Record) error {
	f.mu.Lock()
	f.creates++
	f.actor = ActorFromContext(ctx)
	n := f.creates
	fn := f.createFn
	f.mu.Unlock()

	if fn != nil {
		if err := fn(n, rec); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprint(rec["email"])
	if _, exists := f.records[key]; exists {
		return fmt.Errorf("create %s: %w", key, ErrRecordExists)
	}
	f.records[key] = rec
	return nil
}

func (f *fakeStore) FindByUniqueKey(ctx context.Context, value string) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.findErr != nil {
		return nil, false, f.findErr
	}
	rec, ok := f.records[value]
	return rec, ok, nil
}

func (f *fakeStore) seed(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[email] = Record{"email": email}
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// updatingStore adds RecordUpdater to fakeStore.
type updatingStore struct {
	*fakeStore
	updates int
}

func (u *updatingStore) Update(ctx context.Context, key string, rec Record) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.records[key]; !ok {
		return fmt.Errorf("update %s: not found", key)
	}
	u.updates++
	u.records[key] = rec
	return nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingRegistry wraps MemoryRegistry and keeps every job snapshot
// written through UpdateJob.
type recordingRegistry struct {
	*MemoryRegistry
	mu      sync.Mutex
	updates []ImportJob
}

func (r *recordingRegistry) UpdateJob(ctx context.Context, id string, fn func(*ImportJob)) (ImportJob, error) {
	job, err := r.MemoryRegistry.UpdateJob(ctx, id, fn)
	if err == nil {
		r.mu.Lock()
		r.updates = append(r.updates, job)
		r.mu.Unlock()
	}
	return job, err
}

func (r *recordingRegistry) snapshots() []ImportJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ImportJob, len(r.updates))
	copy(out, r.updates)
	return out
}

// newTestService wires a Service around reg and store with a fake clock.
func newTestService(t *testing.T, reg Registry, store RecordStore, cfg ServiceConfig) (*Service, *fakeClock) {
	t.Helper()
	testDefinition(t)

	stores := map[string]RecordStore{}
	if store != nil {
		stores[testEntity] = store
	}
	svc := NewService(reg, stores, cfg, discardLogger())
	clock := newFakeClock()
	svc.now = clock.Now
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, clock
}

// waitForJob blocks until the job's worker exits and returns its final state.
func waitForJob(t *testing.T, svc *Service, jobID string) ImportJob {
	t.Helper()
	if done := svc.Done(jobID); done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("job %s did not finish", jobID)
		}
	}
	job, err := svc.GetJobStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	return job
}

// peopleCSV builds a template-shaped CSV: header, instruction row, rows.
func peopleCSV(rows ...string) []byte {
	var b strings.Builder
	b.WriteString("email,name,role,birth_date,score,active\n")
	b.WriteString("Required,Required,Optional,Optional,Optional,Optional\n")
	for _, r := range rows {
		b.WriteString(r)
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// validPeople returns n distinct valid CSV rows.
func validPeople(n int) []string {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = fmt.Sprintf("user%d@example.com,User %d,viewer,1990-01-02,%d,yes", i+1, i+1, i)
	}
	return rows
}
