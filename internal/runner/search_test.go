package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/pkg/types"
)

func TestSearchSingleRequest(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{
		"took": 5,
		"timed_out": false,
		"hits": {"total": {"value": 2000, "relation": "gte"}, "hits": []}
	}`)}}

	result, err := (&SearchRunner{}).Invoke(context.Background(), transport, map[string]any{
		"index": "logs-*",
		"body":  map[string]any{"query": map[string]any{"match_all": map[string]any{}}},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	// Without detailed-results the response body is not inspected.
	assert.Equal(t, 1.0, result.Weight)
	assert.Equal(t, "ops", result.Unit)
	assert.True(t, result.Success)
	assert.Nil(t, result.Meta)

	require.Len(t, transport.requests, 1)
	r := transport.requests[0]
	assert.Equal(t, "POST", r.Method)
	assert.Equal(t, "/logs-*/_search", r.Path)
	assert.JSONEq(t, `{"query":{"match_all":{}}}`, string(r.Body))
}

func TestSearchDetailedResults(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{
		"took": 5,
		"timed_out": false,
		"hits": {"total": {"value": 2000, "relation": "gte"}, "hits": []}
	}`)}}

	result, err := (&SearchRunner{}).Invoke(context.Background(), transport, map[string]any{
		"index":            "logs-*",
		"body":             map[string]any{"query": map[string]any{"match_all": map[string]any{}}},
		"detailed-results": true,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2000), result.Meta["hits"])
	assert.Equal(t, "gte", result.Meta["hits_relation"])
	assert.Equal(t, false, result.Meta["timed_out"])
	assert.Equal(t, int64(5), result.Meta["took"])
}

func TestSearchLegacyTotalHits(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{
		"took": 2,
		"timed_out": false,
		"hits": {"total": 321, "hits": []}
	}`)}}

	result, err := (&SearchRunner{}).Invoke(context.Background(), transport, map[string]any{
		"index":            "logs",
		"body":             map[string]any{},
		"detailed-results": true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(321), result.Meta["hits"])
	assert.Equal(t, "eq", result.Meta["hits_relation"])
}

func TestSearchAppliesSizeAndCache(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{"hits":{"total":{"value":0}}}`)}}

	_, err := (&SearchRunner{}).Invoke(context.Background(), transport, map[string]any{
		"index":            "logs",
		"body":             map[string]any{"query": map[string]any{"match_all": map[string]any{}}},
		"results-per-page": 50,
		"cache":            true,
	})
	require.NoError(t, err)

	require.Len(t, transport.requests, 1)
	assert.Equal(t, "true", transport.requests[0].Params["request_cache"])
	assert.Contains(t, string(transport.requests[0].Body), `"size":50`)
}

func TestSearchDoesNotMutateBodyParameter(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{"hits":{"total":{"value":0}}}`)}}

	body := map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	_, err := (&SearchRunner{}).Invoke(context.Background(), transport, map[string]any{
		"index":            "logs",
		"body":             body,
		"results-per-page": 50,
	})
	require.NoError(t, err)
	assert.NotContains(t, body, "size")
}

func TestSearchPaginated(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{
		okResponse(`{
			"took": 3,
			"timed_out": false,
			"hits": {
				"total": {"value": 3, "relation": "eq"},
				"hits": [
					{"_id": "1", "sort": [1001]},
					{"_id": "2", "sort": [1002]}
				]
			}
		}`),
		okResponse(`{
			"took": 2,
			"timed_out": false,
			"hits": {
				"total": {"value": 3, "relation": "eq"},
				"hits": [{"_id": "3", "sort": [1003]}]
			}
		}`),
	}}

	result, err := (&SearchRunner{}).Invoke(context.Background(), transport, map[string]any{
		"index":            "logs",
		"body":             map[string]any{"query": map[string]any{"match_all": map[string]any{}}, "sort": []any{"timestamp"}},
		"pages":            10,
		"results-per-page": 2,
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 2.0, result.Weight)
	assert.Equal(t, "pages", result.Unit)
	assert.Equal(t, int64(2), result.Meta["pages"])
	assert.Equal(t, int64(3), result.Meta["hits"])
	assert.Equal(t, "eq", result.Meta["hits_relation"])
	assert.Equal(t, int64(5), result.Meta["took"])

	// The second request continues after the last sort key of the first page.
	require.Len(t, transport.requests, 2)
	assert.NotContains(t, string(transport.requests[0].Body), "search_after")
	assert.Contains(t, string(transport.requests[1].Body), `"search_after":[1002]`)
}

func TestSearchPaginatedAllPages(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{
		okResponse(`{
			"took": 1,
			"hits": {"total": {"value": 1, "relation": "eq"}, "hits": [{"_id": "1", "sort": [1]}]}
		}`),
	}}

	result, err := (&SearchRunner{}).Invoke(context.Background(), transport, map[string]any{
		"index":            "logs",
		"body":             map[string]any{},
		"pages":            "all",
		"results-per-page": 100,
	})
	require.NoError(t, err)

	// One page covers the single hit, so pagination stops immediately.
	assert.Equal(t, 1.0, result.Weight)
	assert.Len(t, transport.requests, 1)
}

func TestSearchPaginatedStopsWithoutSortKey(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{
		okResponse(`{
			"took": 1,
			"hits": {"total": {"value": 500, "relation": "eq"}, "hits": [{"_id": "1"}]}
		}`),
	}}

	result, err := (&SearchRunner{}).Invoke(context.Background(), transport, map[string]any{
		"index":            "logs",
		"body":             map[string]any{},
		"pages":            5,
		"results-per-page": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Weight)
	assert.Len(t, transport.requests, 1)
}

func TestSearchPaginatedRequiresPageSize(t *testing.T) {
	_, err := (&SearchRunner{}).Invoke(context.Background(), &fakeTransport{}, map[string]any{
		"index": "logs",
		"body":  map[string]any{},
		"pages": 5,
	})
	require.Error(t, err)
	assert.True(t, types.IsDataError(err))
	assert.Contains(t, err.Error(),
		"Parameter source for operation 'search' did not provide the mandatory parameter 'results-per-page'.")
}

func TestSearchRejectsInvalidPages(t *testing.T) {
	_, err := (&SearchRunner{}).Invoke(context.Background(), &fakeTransport{}, map[string]any{
		"index":            "logs",
		"body":             map[string]any{},
		"pages":            "some",
		"results-per-page": 2,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'pages'")
}

func TestSearchMandatoryParameters(t *testing.T) {
	_, err := (&SearchRunner{}).Invoke(context.Background(), &fakeTransport{}, map[string]any{
		"index": "logs",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(),
		"Parameter source for operation 'search' did not provide the mandatory parameter 'body'.")
}
