// Package jobs tracks refresh attempts as persisted job rows with a small
// linear state machine: fetching, updating_db, then success or failed.
package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/propfeed/listings/pkg/models"
	"github.com/propfeed/listings/pkg/tracing"
)

// JobRepository is the persistence contract for jobs
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	FindReusable(ctx context.Context, since time.Time) (*models.Job, error)
}

// Runner executes one refresh pass, reporting progress on the job row
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Service exposes enqueue-with-dedup and poll over job rows
type Service struct {
	jobs            JobRepository
	runner          Runner
	freshnessWindow time.Duration
	logger          ectologger.Logger
}

// NewService creates a new jobs service
func NewService(jobs JobRepository, runner Runner, freshnessWindow time.Duration, logger ectologger.Logger) *Service {
	return &Service{
		jobs:            jobs,
		runner:          runner,
		freshnessWindow: freshnessWindow,
		logger:          logger,
	}
}

// Enqueue starts a refresh, or returns the in-flight job when one was
// created within the freshness window. The reconciler runs detached from the
// triggering request; the returned row is the only handle on it.
func (s *Service) Enqueue(ctx context.Context, payload json.RawMessage) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Service.Enqueue")
	defer span.End()

	existing, err := s.jobs.FindReusable(ctx, time.Now().UTC().Add(-s.freshnessWindow))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.WithContext(ctx).WithFields(map[string]any{"job_id": existing.ID, "status": existing.Status}).Info("Reusing in-flight refresh job")
		return existing, nil
	}

	job := &models.Job{
		Status:  models.JobStatusFetching,
		Payload: payload,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	// The pass must outlive the request; it runs on its own context and the
	// job row carries its outcome.
	go func(jobID string) {
		bgCtx := context.Background()
		if err := s.runner.Run(bgCtx, jobID); err != nil {
			s.logger.WithContext(bgCtx).WithError(err).WithFields(map[string]any{"job_id": jobID}).Error("Background refresh failed")
		}
	}(job.ID)

	return job, nil
}

// Poll returns the job row as-is. Completion and data retrieval are
// decoupled: a successful job says nothing beyond its result string.
func (s *Service) Poll(ctx context.Context, jobID string) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Service.Poll")
	defer span.End()

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "job %s not found", jobID)
	}
	return job, nil
}
