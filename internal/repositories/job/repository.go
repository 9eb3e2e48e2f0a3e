package job

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/propfeed/listings/pkg/database"
	"github.com/propfeed/listings/pkg/models"
	"github.com/propfeed/listings/pkg/tracing"
)

const jobsTable = "jobs"

var jobStruct = database.NewStruct(new(models.Job))

// Repository handles job persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new job repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new job row and reads back the database timestamps.
func (r *Repository) Create(ctx context.Context, job *models.Job) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Create")
	defer span.End()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	query := `
		INSERT INTO jobs (id, status, payload, result, error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	var payload []byte
	if job.Payload != nil {
		payload = []byte(job.Payload)
	}

	row := database.Executor(ctx, r.db).QueryRowxContext(ctx, query, job.ID, job.Status, payload, job.Result, job.Error)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": job.ID}).Error("Failed to create job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create job")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": job.ID, "status": job.Status}).Info("Created job")
	return nil
}

// GetByID retrieves a job by id. Returns nil when no row exists.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.GetByID")
	defer span.End()

	sb := jobStruct.SelectFrom(jobsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var job models.Job
	if err := database.Executor(ctx, r.db).GetContext(ctx, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job")
	}
	return &job, nil
}

// FindReusable returns the newest non-terminal job created at or after the
// given cutoff, or nil when there is none.
func (r *Repository) FindReusable(ctx context.Context, since time.Time) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.FindReusable")
	defer span.End()

	sb := jobStruct.SelectFrom(jobsTable)
	sb.Where(
		sb.NotIn("status", models.JobStatusSuccess, models.JobStatusFailed),
		sb.GreaterEqualThan("created_at", since),
	)
	sb.OrderBy("created_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var job models.Job
	if err := database.Executor(ctx, r.db).GetContext(ctx, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find reusable job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find reusable job")
	}
	return &job, nil
}

// JobUpdate describes the mutable fields of a job. Nil fields are left as-is
// except Status, which is always written.
type JobUpdate struct {
	Status models.JobStatus
	Result *string
	Error  *string
}

// Update transitions a job and records its outcome fields.
func (r *Repository) Update(ctx context.Context, id string, update JobUpdate) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(jobsTable)
	assignments := []string{
		ub.Assign("status", update.Status),
		ub.Assign("updated_at", time.Now().UTC()),
	}
	if update.Result != nil {
		assignments = append(assignments, ub.Assign("result", update.Result))
	}
	if update.Error != nil {
		assignments = append(assignments, ub.Assign("error", update.Error))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "status": update.Status}).Error("Failed to update job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update job")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "job %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "status": update.Status}).Info("Updated job")
	return nil
}
