package refresh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes the snapshot envelope", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"outlets": {
					"availability": {
						"results": [
							{"property": {"propertyCode": "P-1"}, "price": 100},
							{"property": {"propertyCode": "P-2"}, "price": 200}
						]
					}
				}
			}`))
		}))
		defer server.Close()

		fetcher := NewFetcher(FetcherConfig{BaseURL: server.URL, Path: "/search/sgsg", Timeout: 5 * time.Second}, noopLogger())
		records, err := fetcher.Fetch(ctx)
		require.NoError(t, err)

		assert.Equal(t, "/search/sgsg", gotPath)
		require.Len(t, records, 2)
		property, ok := records[0]["property"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "P-1", property["propertyCode"])
	})

	t.Run("missing envelope yields no records", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		fetcher := NewFetcher(FetcherConfig{BaseURL: server.URL, Path: "/search/sgsg", Timeout: 5 * time.Second}, noopLogger())
		records, err := fetcher.Fetch(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("non-OK status errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		fetcher := NewFetcher(FetcherConfig{BaseURL: server.URL, Path: "/search/sgsg", Timeout: 5 * time.Second}, noopLogger())
		_, err := fetcher.Fetch(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("malformed body errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer server.Close()

		fetcher := NewFetcher(FetcherConfig{BaseURL: server.URL, Path: "/search/sgsg", Timeout: 5 * time.Second}, noopLogger())
		_, err := fetcher.Fetch(ctx)
		assert.Error(t, err)
	})
}
