package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propfeed/listings/pkg/models"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeJobRepo struct {
	jobs   map[string]*models.Job
	nextID int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*models.Job{}}
}

func (f *fakeJobRepo) Create(ctx context.Context, job *models.Job) error {
	f.nextID++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", f.nextID)
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	stored := *job
	f.jobs[job.ID] = &stored
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobRepo) FindReusable(ctx context.Context, since time.Time) (*models.Job, error) {
	var newest *models.Job
	for _, job := range f.jobs {
		if job.Status.IsTerminal() || job.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || job.CreatedAt.After(newest.CreatedAt) {
			newest = job
		}
	}
	if newest == nil {
		return nil, nil
	}
	copied := *newest
	return &copied, nil
}

type fakeRunner struct {
	ran chan string
}

func (f *fakeRunner) Run(ctx context.Context, jobID string) error {
	f.ran <- jobID
	return nil
}

func newTestService(window time.Duration) (*Service, *fakeJobRepo, *fakeRunner) {
	repo := newFakeJobRepo()
	runner := &fakeRunner{ran: make(chan string, 1)}
	return NewService(repo, runner, window, noopLogger()), repo, runner
}

func waitForRun(t *testing.T, runner *fakeRunner) string {
	t.Helper()
	select {
	case jobID := <-runner.ran:
		return jobID
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler was never started")
		return ""
	}
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a job and starts the reconciler detached", func(t *testing.T) {
		svc, repo, runner := newTestService(5 * time.Minute)

		job, err := svc.Enqueue(ctx, json.RawMessage(`{"remote_ip": "10.0.0.1"}`))
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFetching, job.Status)
		assert.NotEmpty(t, job.ID)
		require.NotNil(t, repo.jobs[job.ID])

		assert.Equal(t, job.ID, waitForRun(t, runner))
	})

	t.Run("reuses a fresh non-terminal job", func(t *testing.T) {
		svc, _, runner := newTestService(5 * time.Minute)

		first, err := svc.Enqueue(ctx, nil)
		require.NoError(t, err)
		waitForRun(t, runner)

		second, err := svc.Enqueue(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		select {
		case <-runner.ran:
			t.Fatal("deduplicated enqueue must not start another reconciler")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("terminal jobs are not reused", func(t *testing.T) {
		svc, repo, runner := newTestService(5 * time.Minute)

		first, err := svc.Enqueue(ctx, nil)
		require.NoError(t, err)
		waitForRun(t, runner)
		repo.jobs[first.ID].Status = models.JobStatusSuccess

		second, err := svc.Enqueue(ctx, nil)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		waitForRun(t, runner)
	})

	t.Run("stale jobs are not reused", func(t *testing.T) {
		svc, repo, runner := newTestService(5 * time.Minute)

		first, err := svc.Enqueue(ctx, nil)
		require.NoError(t, err)
		waitForRun(t, runner)
		repo.jobs[first.ID].CreatedAt = time.Now().UTC().Add(-10 * time.Minute)

		second, err := svc.Enqueue(ctx, nil)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		waitForRun(t, runner)
	})
}

func TestPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown id is not found", func(t *testing.T) {
		svc, _, _ := newTestService(5 * time.Minute)

		_, err := svc.Poll(ctx, "missing")
		require.Error(t, err)
		require.True(t, httperror.IsHTTPError(err))
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	})

	t.Run("mid-flight job returns its row as-is", func(t *testing.T) {
		svc, repo, runner := newTestService(5 * time.Minute)

		job, err := svc.Enqueue(ctx, nil)
		require.NoError(t, err)
		waitForRun(t, runner)
		repo.jobs[job.ID].Status = models.JobStatusUpdatingDb

		got, err := svc.Poll(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusUpdatingDb, got.Status)
		assert.Nil(t, got.Result)
	})

	t.Run("failed job carries its error", func(t *testing.T) {
		svc, repo, runner := newTestService(5 * time.Minute)

		job, err := svc.Enqueue(ctx, nil)
		require.NoError(t, err)
		waitForRun(t, runner)
		msg := "upstream down"
		repo.jobs[job.ID].Status = models.JobStatusFailed
		repo.jobs[job.ID].Error = &msg

		got, err := svc.Poll(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "upstream down", *got.Error)
	})
}
