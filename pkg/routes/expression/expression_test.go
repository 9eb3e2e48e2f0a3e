package expression

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propfeed/listings/pkg/middleware"
	"github.com/propfeed/listings/pkg/models"
)

type fakeVersions struct {
	editErr   error
	deleteErr error
	lastMeta  json.RawMessage
}

func (f *fakeVersions) ListExpressions(ctx context.Context, listingID string) ([]models.Expression, error) {
	return []models.Expression{{ID: "e1", ListingID: listingID}}, nil
}

func (f *fakeVersions) GetExpression(ctx context.Context, listingID, expressionID string) (*models.Expression, error) {
	return &models.Expression{ID: expressionID, ListingID: listingID}, nil
}

func (f *fakeVersions) DeleteExpression(ctx context.Context, listingID, expressionID string) error {
	return f.deleteErr
}

func (f *fakeVersions) RestoreExpression(ctx context.Context, listingID, expressionID string) error {
	return nil
}

func (f *fakeVersions) EditExpression(ctx context.Context, listingID, expressionID string, meta json.RawMessage) (string, error) {
	if f.editErr != nil {
		return "", f.editErr
	}
	f.lastMeta = meta
	return "e-new", nil
}

func newTestServer(versions *fakeVersions) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	NewHandler(versions).RegisterRoutes(e.Group("/listings"))
	return e
}

func TestEdit(t *testing.T) {
	t.Run("branches and returns the new expression id", func(t *testing.T) {
		versions := &fakeVersions{}
		e := newTestServer(versions)

		req := httptest.NewRequest(http.MethodPost, "/listings/l1/expressions/e1", strings.NewReader(`{"meta": {"price": 150}}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp models.EditExpressionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "e-new", resp.ExpressionID)
		assert.JSONEq(t, `{"price": 150}`, string(versions.lastMeta))
	})

	t.Run("missing meta is a bad request", func(t *testing.T) {
		e := newTestServer(&fakeVersions{})

		req := httptest.NewRequest(http.MethodPost, "/listings/l1/expressions/e1", strings.NewReader(`{}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("service errors pass through the error handler", func(t *testing.T) {
		versions := &fakeVersions{editErr: httperror.NewHTTPError(http.StatusForbidden, "expression e1 is deleted")}
		e := newTestServer(versions)

		req := httptest.NewRequest(http.MethodPost, "/listings/l1/expressions/e1", strings.NewReader(`{"meta": {}}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "expression e1 is deleted")
	})
}

func TestDelete(t *testing.T) {
	t.Run("answers with a success flag", func(t *testing.T) {
		e := newTestServer(&fakeVersions{})

		req := httptest.NewRequest(http.MethodDelete, "/listings/l1/expressions/e1", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp models.MutationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		versions := &fakeVersions{deleteErr: httperror.NewHTTPError(http.StatusNotFound, "expression e9 not found for listing l1")}
		e := newTestServer(versions)

		req := httptest.NewRequest(http.MethodDelete, "/listings/l1/expressions/e9", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestList(t *testing.T) {
	e := newTestServer(&fakeVersions{})

	req := httptest.NewRequest(http.MethodGet, "/listings/l1/expressions", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var expressions []models.Expression
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &expressions))
	require.Len(t, expressions, 1)
	assert.Equal(t, "l1", expressions[0].ListingID)
}
