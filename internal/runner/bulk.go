package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/pkg/types"

	"github.com/ohler55/ojg/oj"
	"github.com/valyala/fasthttp"
)

// BulkRunner indexes a batch of documents with the bulk API.
//
// Mandatory parameters: body (the bulk payload as a string or a list of
// lines), bulk-size, unit and action-metadata-present. When the payload
// carries no action metadata lines the index parameter routes the whole
// request. Optional: pipeline, detailed-results, request-timeout.
type BulkRunner struct{}

func (r *BulkRunner) Name() string { return "bulk-index" }

func (r *BulkRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	ctx, cancel, err := applyRequestTimeout(ctx, params)
	if err != nil {
		return nil, err
	}
	defer cancel()

	bulkSizeRaw, err := Mandatory(params, "bulk-size", r.Name())
	if err != nil {
		return nil, err
	}
	bulkSize, ok := asFloat(bulkSizeRaw)
	if !ok {
		return nil, types.NewDataError("parameter 'bulk-size' of operation '%s' must be a number, got %T", r.Name(), bulkSizeRaw)
	}
	unit, err := MandatoryString(params, "unit", r.Name())
	if err != nil {
		return nil, err
	}
	actionMetaRaw, err := Mandatory(params, "action-metadata-present", r.Name())
	if err != nil {
		return nil, err
	}
	withActionMetadata, ok := actionMetaRaw.(bool)
	if !ok {
		return nil, types.NewDataError("parameter 'action-metadata-present' of operation '%s' must be a boolean, got %T", r.Name(), actionMetaRaw)
	}
	bodyRaw, err := Mandatory(params, "body", r.Name())
	if err != nil {
		return nil, err
	}
	lines, err := bulkLines(bodyRaw)
	if err != nil {
		return nil, err
	}

	detailed := boolParam(params, "detailed-results", false)

	queryParams := requestParams(params)
	if pipeline := stringParam(params, "pipeline", ""); pipeline != "" {
		if queryParams == nil {
			queryParams = make(map[string]string, 1)
		}
		queryParams["pipeline"] = pipeline
	}

	path := "/_bulk"
	index := stringParam(params, "index", "")
	if !withActionMetadata {
		if index == "" {
			return nil, types.NewDataError(
				"Parameter source for operation '%s' did not provide the mandatory parameter 'index'. "+
					"Add it to your parameter source and try again.", r.Name())
		}
		path = "/" + index + "/_bulk"
	}

	headers := headerParams(params)
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	headers["Content-Type"] = "application/x-ndjson"

	rsp, err := client.Do(ctx, &cluster.Request{
		Method:  fasthttp.MethodPost,
		Path:    path,
		Params:  queryParams,
		Headers: headers,
		Body:    bulkPayload(lines),
	})
	if err != nil {
		return nil, err
	}
	if rsp.IsError() {
		return nil, newHTTPError(rsp)
	}

	doc, err := oj.Parse(rsp.Body)
	if err != nil {
		return nil, types.NewDataError("failed to parse bulk response: %v", err)
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, types.NewDataError("unexpected bulk response of type %T", doc)
	}

	var stats bulkStats
	if detailed {
		stats = detailedBulkStats(root, lines, withActionMetadata)
	} else {
		stats = simpleBulkStats(root, bulkSize, unit)
	}

	result := &Result{
		Weight:  bulkSize,
		Unit:    unit,
		Success: stats.errorCount == 0,
		Meta:    stats.meta(index),
	}
	if stats.errorCount > 0 {
		result.ErrorType = "bulk"
		result.ErrorDescription = stats.errorDescription()
	}
	return result, nil
}

// bulkLines normalizes the body parameter into payload lines.
func bulkLines(body any) ([]string, error) {
	switch b := body.(type) {
	case string:
		return strings.Split(strings.TrimRight(b, "\n"), "\n"), nil
	case []byte:
		return strings.Split(strings.TrimRight(string(b), "\n"), "\n"), nil
	case []string:
		return b, nil
	case []any:
		lines := make([]string, 0, len(b))
		for _, line := range b {
			if s, ok := asString(line); ok {
				lines = append(lines, s)
				continue
			}
			encoded, err := oj.Marshal(line)
			if err != nil {
				return nil, types.NewDataError("failed to encode bulk line: %v", err)
			}
			lines = append(lines, string(encoded))
		}
		return lines, nil
	default:
		return nil, types.NewDataError("bulk body is neither a string nor a list, got %T", body)
	}
}

func bulkPayload(lines []string) []byte {
	payload := make([]byte, 0, payloadSize(lines))
	for _, line := range lines {
		payload = append(payload, line...)
		payload = append(payload, '\n')
	}
	return payload
}

func payloadSize(lines []string) int {
	size := 0
	for _, line := range lines {
		size += len(line) + 1
	}
	return size
}

type bulkErrorDetail struct {
	status int64
	reason string
}

type bulkStats struct {
	took         any
	ingestTook   any
	successCount int64
	// hasSuccessCount is false when the response did not need full parsing
	// and the unit does not let us infer the count.
	hasSuccessCount bool
	errorCount      int64
	errorDetails    []bulkErrorDetail

	// detailed-results extras
	detailed         bool
	opCounts         map[string]map[string]int64
	shardsHistogram  []map[string]any
	requestSizeBytes int64
	docSizeBytes     int64
}

func (s *bulkStats) meta(index string) map[string]any {
	meta := map[string]any{
		"took":        s.took,
		"error-count": s.errorCount,
	}
	if index != "" {
		meta["index"] = index
	}
	if s.hasSuccessCount {
		meta["success-count"] = s.successCount
	}
	if s.detailed {
		meta["ops"] = s.opCounts
		meta["shards_histogram"] = s.shardsHistogram
		meta["bulk-request-size-bytes"] = s.requestSizeBytes
		meta["total-document-size-bytes"] = s.docSizeBytes
		if s.ingestTook != nil {
			meta["ingest_took"] = s.ingestTook
		}
	}
	return meta
}

func (s *bulkStats) errorDescription() string {
	details := make([]string, 0, len(s.errorDetails))
	for _, d := range s.errorDetails {
		if d.reason != "" {
			details = append(details, fmt.Sprintf("HTTP status: %d, message: %s", d.status, d.reason))
		} else {
			details = append(details, fmt.Sprintf("HTTP status: %d", d.status))
		}
	}
	sort.Strings(details)
	return strings.Join(details, "; ")
}

// simpleBulkStats avoids walking the items unless the response flags
// errors; large bulk responses are the common case and scanning them every
// time would skew the measurement.
func simpleBulkStats(root map[string]any, bulkSize float64, unit string) bulkStats {
	stats := bulkStats{took: root["took"]}
	if unit == "docs" {
		stats.successCount = int64(bulkSize)
		stats.hasSuccessCount = true
	}

	if hadErrors, _ := root["errors"].(bool); !hadErrors {
		return stats
	}

	items, _ := root["items"].([]any)
	stats.successCount, stats.errorCount, stats.errorDetails = scanBulkItems(items, nil)
	stats.hasSuccessCount = true
	return stats
}

func detailedBulkStats(root map[string]any, lines []string, withActionMetadata bool) bulkStats {
	stats := bulkStats{
		took:       root["took"],
		ingestTook: root["ingest_took"],
		detailed:   true,
		opCounts:   make(map[string]map[string]int64),
	}

	for i, line := range lines {
		size := int64(len(line))
		stats.requestSizeBytes += size
		// With action metadata only every second line is a document.
		if !withActionMetadata || i%2 == 1 {
			stats.docSizeBytes += size
		}
	}

	histogramIndex := make(map[string]int)
	items, _ := root["items"].([]any)
	stats.successCount, stats.errorCount, stats.errorDetails = scanBulkItems(items, func(op string, data map[string]any) {
		counts, ok := stats.opCounts[op]
		if !ok {
			counts = make(map[string]int64)
			stats.opCounts[op] = counts
		}
		counts["item-count"]++
		if result, ok := data["result"].(string); ok {
			counts[result]++
		}

		if shards, ok := data["_shards"].(map[string]any); ok {
			total, _ := asInt(shards["total"])
			successful, _ := asInt(shards["successful"])
			failed, _ := asInt(shards["failed"])
			key := fmt.Sprintf("%d-%d-%d", total, successful, failed)
			if idx, seen := histogramIndex[key]; seen {
				bucket := stats.shardsHistogram[idx]
				bucket["item-count"] = bucket["item-count"].(int64) + 1
			} else {
				histogramIndex[key] = len(stats.shardsHistogram)
				stats.shardsHistogram = append(stats.shardsHistogram, map[string]any{
					"item-count": int64(1),
					"shards":     shards,
				})
			}
		}
	})
	stats.hasSuccessCount = true
	return stats
}

// scanBulkItems counts per-item outcomes. An item failed when its status
// is above 299 or any of its shards failed.
func scanBulkItems(items []any, visit func(op string, data map[string]any)) (successCount, errorCount int64, details []bulkErrorDetail) {
	seen := make(map[bulkErrorDetail]struct{})
	for _, rawItem := range items {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		// Each item holds exactly one entry keyed by the bulk op.
		for op, rawData := range item {
			data, ok := rawData.(map[string]any)
			if !ok {
				continue
			}
			if visit != nil {
				visit(op, data)
			}

			status, _ := asInt(data["status"])
			shardsFailed := int64(0)
			if shards, ok := data["_shards"].(map[string]any); ok {
				shardsFailed, _ = asInt(shards["failed"])
			}

			if status > 299 || shardsFailed > 0 {
				errorCount++
				detail := bulkErrorDetail{status: status, reason: bulkErrorReason(data)}
				if _, dup := seen[detail]; !dup {
					seen[detail] = struct{}{}
					details = append(details, detail)
				}
			} else {
				successCount++
			}
		}
	}
	return successCount, errorCount, details
}

func bulkErrorReason(data map[string]any) string {
	switch errValue := data["error"].(type) {
	case map[string]any:
		reason, _ := errValue["reason"].(string)
		return reason
	case string:
		return errValue
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", errValue)
	}
}
