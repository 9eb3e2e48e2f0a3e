package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propfeed/listings/internal/repositories/job"
	"github.com/propfeed/listings/pkg/fingerprint"
	"github.com/propfeed/listings/pkg/models"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeFetcher struct {
	records []map[string]any
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]map[string]any, error) {
	return f.records, f.err
}

// fakeVersions tracks listings by property id and counts expression appends.
type fakeVersions struct {
	listings map[string]*models.Listing
	appends  map[string]int
	failFor  map[string]error
	nextID   int
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{
		listings: map[string]*models.Listing{},
		appends:  map[string]int{},
		failFor:  map[string]error{},
	}
}

func (f *fakeVersions) GetListingByPropertyID(ctx context.Context, propertyID string) (*models.Listing, error) {
	listing, ok := f.listings[propertyID]
	if !ok {
		return nil, nil
	}
	copied := *listing
	return &copied, nil
}

func (f *fakeVersions) CreateListing(ctx context.Context, propertyID string, meta json.RawMessage) (*models.Listing, *models.Expression, error) {
	if err, ok := f.failFor[propertyID]; ok {
		return nil, nil, err
	}
	hash, err := fingerprint.GenerateFromJSON(meta)
	if err != nil {
		return nil, nil, err
	}
	f.nextID++
	listing := &models.Listing{
		ID:          fmt.Sprintf("listing-%d", f.nextID),
		PropertyID:  propertyID,
		ContentHash: hash,
	}
	f.listings[propertyID] = listing
	return listing, &models.Expression{ID: fmt.Sprintf("expr-%d", f.nextID), ListingID: listing.ID}, nil
}

func (f *fakeVersions) AppendExpression(ctx context.Context, listingID string, meta json.RawMessage) (string, error) {
	for _, listing := range f.listings {
		if listing.ID != listingID {
			continue
		}
		if err, ok := f.failFor[listing.PropertyID]; ok {
			return "", err
		}
		hash, err := fingerprint.GenerateFromJSON(meta)
		if err != nil {
			return "", err
		}
		listing.ContentHash = hash
		f.appends[listing.PropertyID]++
		f.nextID++
		return fmt.Sprintf("expr-%d", f.nextID), nil
	}
	return "", errors.New("listing not found")
}

type fakeJobs struct {
	updates []job.JobUpdate
}

func (f *fakeJobs) Update(ctx context.Context, id string, update job.JobUpdate) error {
	f.updates = append(f.updates, update)
	return nil
}

func record(propertyID string, price float64) map[string]any {
	return map[string]any{
		"property": map[string]any{"propertyCode": propertyID},
		"price":    price,
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("creates listings for unknown properties", func(t *testing.T) {
		versions := newFakeVersions()
		jobs := &fakeJobs{}
		svc := NewService(&fakeFetcher{records: []map[string]any{record("P-1", 100), record("P-2", 200)}}, versions, jobs, noopLogger())

		require.NoError(t, svc.Run(ctx, "job-1"))

		assert.Len(t, versions.listings, 2)
		require.Len(t, jobs.updates, 2)
		assert.Equal(t, models.JobStatusUpdatingDb, jobs.updates[0].Status)
		assert.Equal(t, models.JobStatusSuccess, jobs.updates[1].Status)
		require.NotNil(t, jobs.updates[1].Result)
		assert.Contains(t, *jobs.updates[1].Result, "2 created")
	})

	t.Run("empty snapshot completes with a note", func(t *testing.T) {
		jobs := &fakeJobs{}
		svc := NewService(&fakeFetcher{records: nil}, newFakeVersions(), jobs, noopLogger())

		require.NoError(t, svc.Run(ctx, "job-1"))

		require.Len(t, jobs.updates, 2)
		assert.Equal(t, models.JobStatusSuccess, jobs.updates[1].Status)
		require.NotNil(t, jobs.updates[1].Result)
		assert.Equal(t, "nothing returned from upstream", *jobs.updates[1].Result)
	})

	t.Run("fetch failure fails the job with the error", func(t *testing.T) {
		jobs := &fakeJobs{}
		svc := NewService(&fakeFetcher{err: errors.New("upstream down")}, newFakeVersions(), jobs, noopLogger())

		err := svc.Run(ctx, "job-1")
		require.Error(t, err)

		require.Len(t, jobs.updates, 1)
		assert.Equal(t, models.JobStatusFailed, jobs.updates[0].Status)
		require.NotNil(t, jobs.updates[0].Error)
		assert.Contains(t, *jobs.updates[0].Error, "upstream down")
	})
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged records are idempotent", func(t *testing.T) {
		versions := newFakeVersions()
		svc := NewService(nil, versions, &fakeJobs{}, noopLogger())
		snapshot := []map[string]any{record("P-1", 100)}

		first := svc.Reconcile(ctx, snapshot)
		assert.Equal(t, 1, first.Created)

		second := svc.Reconcile(ctx, snapshot)
		assert.Equal(t, 0, second.Created)
		assert.Equal(t, 0, second.Updated)
		assert.Equal(t, 1, second.Unchanged)
		assert.Equal(t, 0, versions.appends["P-1"])
	})

	t.Run("changed content appends exactly one expression", func(t *testing.T) {
		versions := newFakeVersions()
		svc := NewService(nil, versions, &fakeJobs{}, noopLogger())

		svc.Reconcile(ctx, []map[string]any{record("P-1", 100)})
		stats := svc.Reconcile(ctx, []map[string]any{record("P-1", 120)})

		assert.Equal(t, 1, stats.Updated)
		assert.Equal(t, 1, versions.appends["P-1"])

		// a third pass with the same content is a no-op again
		stats = svc.Reconcile(ctx, []map[string]any{record("P-1", 120)})
		assert.Equal(t, 1, stats.Unchanged)
		assert.Equal(t, 1, versions.appends["P-1"])
	})

	t.Run("one bad record never aborts the pass", func(t *testing.T) {
		versions := newFakeVersions()
		versions.failFor["P-2"] = errors.New("constraint violation")
		svc := NewService(nil, versions, &fakeJobs{}, noopLogger())

		stats := svc.Reconcile(ctx, []map[string]any{record("P-1", 100), record("P-2", 200), record("P-3", 300)})

		assert.Equal(t, 3, stats.Processed)
		assert.Equal(t, 2, stats.Created)
		assert.Equal(t, 1, stats.Failed)
		assert.Len(t, versions.listings, 2)
	})

	t.Run("records without a property code are skipped", func(t *testing.T) {
		versions := newFakeVersions()
		svc := NewService(nil, versions, &fakeJobs{}, noopLogger())

		stats := svc.Reconcile(ctx, []map[string]any{
			{"price": float64(100)},
			{"property": map[string]any{"propertyCode": ""}},
			record("P-1", 100),
		})

		assert.Equal(t, 2, stats.Failed)
		assert.Equal(t, 1, stats.Created)
	})
}
