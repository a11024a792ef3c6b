package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderer returns a scripted result after an optional delay.
type fakeRenderer struct {
	mu     sync.Mutex
	output string
	err    error
	calls  int
	block  chan struct{}
}

func (f *fakeRenderer) Render(ctx context.Context, job *Job, report ProgressFunc) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-f.block:
		}
	}
	if f.err != nil {
		return "", f.err
	}
	report(90, 8)
	return f.output, nil
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	checkpoints map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*Job), checkpoints: make(map[string]int)}
}

func (s *fakeStore) LoadJobs(context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (s *fakeStore) UpsertJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *fakeStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *fakeStore) SaveCheckpoint(_ context.Context, id string, completed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[id] = completed
	return nil
}

func (s *fakeStore) DeleteJobData(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, id)
	return nil
}

func validJobRequest() Request {
	return Request{
		TemplateID: 1,
		Source:     "/media/lesson.mp4",
		Start:      30,
		End:        33,
	}
}

func TestCoordinatorCompletesJob(t *testing.T) {
	renderer := &fakeRenderer{output: "/out/final.mp4"}
	c := NewCoordinator(renderer, newFakeStore(), Options{Workers: 2})
	c.Start()
	defer c.Stop()

	job, err := c.Submit(validJobRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	require.Eventually(t, func() bool {
		got, err := c.Status(job.ID)
		return err == nil && got.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := c.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "/out/final.mp4", got.OutputPath)
	assert.Nil(t, got.Error)
}

func TestCoordinatorRecordsStructuredFailure(t *testing.T) {
	renderer := &fakeRenderer{err: &JobError{Kind: ErrToolTimeout, PrimitiveIndex: 3, Detail: "encoder timed out"}}
	c := NewCoordinator(renderer, nil, Options{Workers: 1})
	c.Start()
	defer c.Stop()

	job, err := c.Submit(validJobRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := c.Status(job.ID)
		return got != nil && got.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := c.Status(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, ErrToolTimeout, got.Error.Kind)
	assert.Equal(t, 3, got.Error.PrimitiveIndex)
}

func TestCoordinatorRejectsInvalidRequests(t *testing.T) {
	c := NewCoordinator(&fakeRenderer{}, nil, Options{})

	_, err := c.Submit(Request{TemplateID: 1, Start: 0, End: 2})
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, ErrInputInvalid, jobErr.Kind)

	_, err = c.Submit(Request{TemplateID: 1, Source: "/a.mp4", Start: 5, End: 2})
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, ErrInputInvalid, jobErr.Kind)

	_, err = c.Submit(Request{Source: "/a.mp4", Start: 0, End: 2})
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, ErrInputInvalid, jobErr.Kind)
}

func TestCoordinatorDedupesActiveSubmissions(t *testing.T) {
	renderer := &fakeRenderer{block: make(chan struct{})}
	c := NewCoordinator(renderer, nil, Options{Workers: 1})
	c.Start()
	defer c.Stop()

	req := validJobRequest()
	req.DedupeKey = "lesson-1:30-33"

	first, err := c.Submit(req)
	require.NoError(t, err)
	second, err := c.Submit(req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	close(renderer.block)
	require.Eventually(t, func() bool {
		got, _ := c.Status(first.ID)
		return got != nil && got.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, renderer.callCount())

	// Terminal jobs release their key for resubmission.
	third, err := c.Submit(req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCoordinatorStatusUnknownJob(t *testing.T) {
	c := NewCoordinator(&fakeRenderer{}, nil, Options{})
	_, err := c.Status("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCoordinatorCancelPendingJob(t *testing.T) {
	c := NewCoordinator(&fakeRenderer{}, nil, Options{})
	// Not started: the job stays pending.
	job, err := c.Submit(validJobRequest())
	require.NoError(t, err)

	assert.Equal(t, CancelOK, c.Cancel(job.ID))
	got, err := c.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	assert.Equal(t, CancelAlreadyTerminal, c.Cancel(job.ID))
	assert.Equal(t, CancelNotFound, c.Cancel("missing"))
}

func TestCoordinatorCancelProcessingJob(t *testing.T) {
	renderer := &fakeRenderer{block: make(chan struct{})}
	c := NewCoordinator(renderer, nil, Options{Workers: 1})
	c.Start()
	defer c.Stop()

	job, err := c.Submit(validJobRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := c.Status(job.ID)
		return got != nil && got.Status == StatusProcessing
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, CancelOK, c.Cancel(job.ID))
	require.Eventually(t, func() bool {
		got, _ := c.Status(job.ID)
		return got != nil && got.Status == StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := c.Status(job.ID)
	require.NotNil(t, got.Error)
	assert.Equal(t, ErrCancelled, got.Error.Kind)
}

func TestCoordinatorHydratesInterruptedJobs(t *testing.T) {
	store := newFakeStore()
	store.jobs["abc"] = &Job{
		ID:         "abc",
		Request:    validJobRequest(),
		Status:     StatusProcessing,
		Checkpoint: 5,
	}
	store.jobs["done"] = &Job{
		ID:      "done",
		Request: validJobRequest(),
		Status:  StatusCompleted,
	}

	resumed := NewCoordinator(&fakeRenderer{}, store, Options{Resume: true})
	got, err := resumed.Status("abc")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 5, got.Checkpoint)

	finished, err := resumed.Status("done")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, finished.Status)

	fresh := NewCoordinator(&fakeRenderer{}, store, Options{Resume: false})
	got, err = fresh.Status("abc")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Checkpoint)
}

func TestCoordinatorPersistsLifecycle(t *testing.T) {
	store := newFakeStore()
	renderer := &fakeRenderer{output: "/out/final.mp4"}
	c := NewCoordinator(renderer, store, Options{Workers: 1})
	c.Start()
	defer c.Stop()

	job, err := c.Submit(validJobRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		persisted, ok := store.jobs[job.ID]
		return ok && persisted.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJobErrorMessage(t *testing.T) {
	err := &JobError{Kind: ErrToolFailed, PrimitiveIndex: 4, Detail: "boom"}
	assert.Equal(t, "tool-failed at primitive 4: boom", err.Error())

	err = &JobError{Kind: ErrInputInvalid, PrimitiveIndex: -1, Detail: "bad segment"}
	assert.Equal(t, "input-invalid: bad segment", err.Error())
}

func TestTruncateDetail(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateDetail(string(long))
	assert.Len(t, got, 503)
	assert.True(t, len(truncateDetail("short")) == 5)
}
