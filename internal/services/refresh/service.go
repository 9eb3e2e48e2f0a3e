// Package refresh reconciles the upstream property snapshot against stored
// listings. Each record is an independent unit of work: one bad record is
// logged and skipped, never aborting the pass. Only fetch-level failures
// fail the job.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/propfeed/listings/internal/repositories/job"
	"github.com/propfeed/listings/pkg/fingerprint"
	"github.com/propfeed/listings/pkg/metrics"
	"github.com/propfeed/listings/pkg/models"
	"github.com/propfeed/listings/pkg/tracing"
)

// SnapshotFetcher retrieves the upstream property records
type SnapshotFetcher interface {
	Fetch(ctx context.Context) ([]map[string]any, error)
}

// VersionManager is the subset of the versions service the reconciler drives
type VersionManager interface {
	GetListingByPropertyID(ctx context.Context, propertyID string) (*models.Listing, error)
	CreateListing(ctx context.Context, propertyID string, meta json.RawMessage) (*models.Listing, *models.Expression, error)
	AppendExpression(ctx context.Context, listingID string, meta json.RawMessage) (string, error)
}

// JobUpdater records the reconciliation pass's progress on its job row
type JobUpdater interface {
	Update(ctx context.Context, id string, update job.JobUpdate) error
}

// Stats summarizes one reconciliation pass
type Stats struct {
	Processed int
	Created   int
	Updated   int
	Unchanged int
	Failed    int
}

func (s Stats) String() string {
	return fmt.Sprintf("processed %d records: %d created, %d updated, %d unchanged, %d failed",
		s.Processed, s.Created, s.Updated, s.Unchanged, s.Failed)
}

// Service runs the fetch-and-reconcile pass
type Service struct {
	fetcher  SnapshotFetcher
	versions VersionManager
	jobs     JobUpdater
	logger   ectologger.Logger
}

// NewService creates a new refresh service
func NewService(fetcher SnapshotFetcher, versions VersionManager, jobs JobUpdater, logger ectologger.Logger) *Service {
	return &Service{
		fetcher:  fetcher,
		versions: versions,
		jobs:     jobs,
		logger:   logger,
	}
}

// Run executes one full refresh pass for the given job: fetch the snapshot,
// reconcile it, and drive the job row through its states. The job row is the
// only channel back to the caller.
func (s *Service) Run(ctx context.Context, jobID string) error {
	ctx, span := tracing.StartSpan(ctx, "refresh.Service.Run")
	defer span.End()

	started := time.Now()

	records, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_id": jobID}).Error("Refresh failed during fetch")
		s.failJob(ctx, jobID, err)
		metrics.RefreshJobsTotal.WithLabelValues(string(models.JobStatusFailed)).Inc()
		return err
	}

	if err := s.jobs.Update(ctx, jobID, job.JobUpdate{Status: models.JobStatusUpdatingDb}); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_id": jobID}).Error("Refresh failed to transition job")
		s.failJob(ctx, jobID, err)
		metrics.RefreshJobsTotal.WithLabelValues(string(models.JobStatusFailed)).Inc()
		return err
	}

	if len(records) == 0 {
		result := "nothing returned from upstream"
		if err := s.jobs.Update(ctx, jobID, job.JobUpdate{Status: models.JobStatusSuccess, Result: &result}); err != nil {
			return err
		}
		metrics.RefreshJobsTotal.WithLabelValues(string(models.JobStatusSuccess)).Inc()
		return nil
	}

	stats := s.Reconcile(ctx, records)

	result := stats.String()
	if err := s.jobs.Update(ctx, jobID, job.JobUpdate{Status: models.JobStatusSuccess, Result: &result}); err != nil {
		return err
	}

	metrics.RefreshJobsTotal.WithLabelValues(string(models.JobStatusSuccess)).Inc()
	metrics.RefreshDuration.Observe(time.Since(started).Seconds())

	s.logger.WithContext(ctx).WithFields(map[string]any{"job_id": jobID, "result": result}).Info("Refresh completed")
	return nil
}

// Reconcile diffs the snapshot against stored listings. Unknown properties
// get a new listing, changed content appends an expression, unchanged
// content is a no-op.
func (s *Service) Reconcile(ctx context.Context, records []map[string]any) Stats {
	ctx, span := tracing.StartSpan(ctx, "refresh.Service.Reconcile")
	defer span.End()

	var stats Stats
	for _, record := range records {
		stats.Processed++

		propertyID, ok := propertyCode(record)
		if !ok {
			stats.Failed++
			metrics.RecordsProcessed.WithLabelValues("failed").Inc()
			payload, _ := json.Marshal(record)
			s.logger.WithContext(ctx).WithFields(map[string]any{"record": string(payload)}).Warn("Skipping record with no property code")
			continue
		}

		outcome, err := s.reconcileRecord(ctx, propertyID, record)
		if err != nil {
			stats.Failed++
			metrics.RecordsProcessed.WithLabelValues("failed").Inc()
			payload, _ := json.Marshal(record)
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"property_id": propertyID,
				"record":      string(payload),
			}).Error("Failed to reconcile record")
			continue
		}

		switch outcome {
		case "created":
			stats.Created++
		case "updated":
			stats.Updated++
		default:
			stats.Unchanged++
		}
		metrics.RecordsProcessed.WithLabelValues(outcome).Inc()
	}

	return stats
}

func (s *Service) reconcileRecord(ctx context.Context, propertyID string, record map[string]any) (string, error) {
	hash := fingerprint.Generate(record)

	listing, err := s.versions.GetListingByPropertyID(ctx, propertyID)
	if err != nil {
		return "", err
	}

	meta, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	if listing == nil {
		if _, _, err := s.versions.CreateListing(ctx, propertyID, meta); err != nil {
			return "", err
		}
		return "created", nil
	}

	if !fingerprint.HasChanged(listing.ContentHash, hash) {
		return "unchanged", nil
	}

	if _, err := s.versions.AppendExpression(ctx, listing.ID, meta); err != nil {
		return "", err
	}
	return "updated", nil
}

func (s *Service) failJob(ctx context.Context, jobID string, cause error) {
	msg := cause.Error()
	if err := s.jobs.Update(ctx, jobID, job.JobUpdate{Status: models.JobStatusFailed, Error: &msg}); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_id": jobID}).Error("Failed to mark job as failed")
	}
}

// propertyCode extracts the external identifier from an upstream record.
func propertyCode(record map[string]any) (string, bool) {
	property, ok := record["property"].(map[string]any)
	if !ok {
		return "", false
	}
	code, ok := property["propertyCode"].(string)
	if !ok || code == "" {
		return "", false
	}
	return code, true
}
