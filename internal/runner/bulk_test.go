package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/pkg/types"
)

func bulkParams(extra map[string]any) map[string]any {
	params := map[string]any{
		"body": "{\"index\":{}}\n" +
			"{\"f\":1}\n" +
			"{\"index\":{}}\n" +
			"{\"f\":22}\n",
		"bulk-size":               2,
		"unit":                    "docs",
		"action-metadata-present": true,
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

func TestBulkSimpleSuccess(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{"took":8,"errors":false}`)}}

	result, err := (&BulkRunner{}).Invoke(context.Background(), transport, bulkParams(nil))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 2.0, result.Weight)
	assert.Equal(t, "docs", result.Unit)
	assert.True(t, result.Success)
	assert.Equal(t, int64(8), result.Meta["took"])
	assert.Equal(t, int64(2), result.Meta["success-count"])
	assert.Equal(t, int64(0), result.Meta["error-count"])

	require.Len(t, transport.requests, 1)
	r := transport.requests[0]
	assert.Equal(t, "POST", r.Method)
	assert.Equal(t, "/_bulk", r.Path)
	assert.Equal(t, "application/x-ndjson", r.Headers["Content-Type"])
	assert.Equal(t, "{\"index\":{}}\n{\"f\":1}\n{\"index\":{}}\n{\"f\":22}\n", string(r.Body))
}

func TestBulkWithoutActionMetadata(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{"took":8,"errors":false}`)}}

	params := map[string]any{
		"body":                    "{\"f\":1}\n{\"f\":2}\n",
		"bulk-size":               2,
		"unit":                    "docs",
		"action-metadata-present": false,
		"index":                   "logs",
	}
	result, err := (&BulkRunner{}).Invoke(context.Background(), transport, params)
	require.NoError(t, err)
	assert.Equal(t, "logs", result.Meta["index"])

	require.Len(t, transport.requests, 1)
	assert.Equal(t, "/logs/_bulk", transport.requests[0].Path)

	// Without action metadata the target index is mandatory.
	delete(params, "index")
	_, err = (&BulkRunner{}).Invoke(context.Background(), transport, params)
	require.Error(t, err)
	assert.True(t, types.IsDataError(err))
	assert.Contains(t, err.Error(),
		"Parameter source for operation 'bulk-index' did not provide the mandatory parameter 'index'.")
}

func TestBulkCountsItemFailures(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{
		"took": 12,
		"errors": true,
		"items": [
			{"index": {"status": 201}},
			{"index": {"status": 500, "error": {"type": "server_error", "reason": "internal server error"}}}
		]
	}`)}}

	result, err := (&BulkRunner{}).Invoke(context.Background(), transport, bulkParams(nil))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.Success)
	assert.Equal(t, "bulk", result.ErrorType)
	assert.Equal(t, "HTTP status: 500, message: internal server error", result.ErrorDescription)
	assert.Equal(t, int64(1), result.Meta["success-count"])
	assert.Equal(t, int64(1), result.Meta["error-count"])
}

func TestBulkCountsShardFailures(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{
		"took": 12,
		"errors": true,
		"items": [
			{"index": {"status": 201, "_shards": {"total": 2, "successful": 1, "failed": 1}}},
			{"index": {"status": 201, "_shards": {"total": 2, "successful": 2, "failed": 0}}}
		]
	}`)}}

	result, err := (&BulkRunner{}).Invoke(context.Background(), transport, bulkParams(nil))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, int64(1), result.Meta["success-count"])
	assert.Equal(t, int64(1), result.Meta["error-count"])
	assert.Equal(t, "HTTP status: 201", result.ErrorDescription)
}

func TestBulkDetailedStats(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{
		"took": 20,
		"ingest_took": 5,
		"errors": false,
		"items": [
			{"index": {"status": 201, "result": "created", "_shards": {"total": 2, "successful": 1, "failed": 0}}},
			{"index": {"status": 201, "result": "created", "_shards": {"total": 2, "successful": 1, "failed": 0}}}
		]
	}`)}}

	result, err := (&BulkRunner{}).Invoke(context.Background(), transport, bulkParams(map[string]any{
		"detailed-results": true,
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)

	assert.Equal(t, int64(2), result.Meta["success-count"])
	assert.Equal(t, int64(20), result.Meta["took"])
	assert.Equal(t, int64(5), result.Meta["ingest_took"])
	// Each payload line counts toward the request size, every second line
	// is a document.
	assert.Equal(t, int64(12+7+12+8), result.Meta["bulk-request-size-bytes"])
	assert.Equal(t, int64(7+8), result.Meta["total-document-size-bytes"])

	ops, ok := result.Meta["ops"].(map[string]map[string]int64)
	require.True(t, ok)
	assert.Equal(t, int64(2), ops["index"]["item-count"])
	assert.Equal(t, int64(2), ops["index"]["created"])

	histogram, ok := result.Meta["shards_histogram"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, histogram, 1)
	assert.Equal(t, int64(2), histogram[0]["item-count"])
}

func TestBulkDetailedStatsWithoutActionMetadata(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{"took":3,"errors":false,"items":[]}`)}}

	// All lines are documents when the payload has no action metadata.
	result, err := (&BulkRunner{}).Invoke(context.Background(), transport, map[string]any{
		"body":                    []any{`{"f":1}`, `{"f":22}`},
		"bulk-size":               2,
		"unit":                    "docs",
		"action-metadata-present": false,
		"index":                   "logs",
		"detailed-results":        true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7+8), result.Meta["bulk-request-size-bytes"])
	assert.Equal(t, int64(7+8), result.Meta["total-document-size-bytes"])
}

func TestBulkPipelineAndRequestParams(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{okResponse(`{"took":8,"errors":false}`)}}

	_, err := (&BulkRunner{}).Invoke(context.Background(), transport, bulkParams(map[string]any{
		"pipeline":       "enrich-logs",
		"request-params": map[string]any{"refresh": "true"},
	}))
	require.NoError(t, err)

	require.Len(t, transport.requests, 1)
	assert.Equal(t, "enrich-logs", transport.requests[0].Params["pipeline"])
	assert.Equal(t, "true", transport.requests[0].Params["refresh"])
}

func TestBulkMandatoryParameters(t *testing.T) {
	params := bulkParams(nil)
	delete(params, "bulk-size")

	_, err := (&BulkRunner{}).Invoke(context.Background(), &fakeTransport{}, params)
	require.Error(t, err)
	assert.Contains(t, err.Error(),
		"Parameter source for operation 'bulk-index' did not provide the mandatory parameter 'bulk-size'.")
}

func TestBulkHTTPError(t *testing.T) {
	transport := &fakeTransport{responses: []*cluster.Response{
		errorResponse(429, `{"error":{"reason":"rejected execution"}}`),
	}}

	_, err := (&BulkRunner{}).Invoke(context.Background(), transport, bulkParams(nil))
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 429, httpErr.StatusCode)
	assert.Contains(t, httpErr.Error(), "rejected execution")
}
