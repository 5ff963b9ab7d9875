package runner

import (
	"context"
	"math"
	"strconv"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/pkg/types"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/valyala/fasthttp"
)

var (
	pathHitsTotalValue    = jp.MustParseString("hits.total.value")
	pathHitsTotal         = jp.MustParseString("hits.total")
	pathHitsTotalRelation = jp.MustParseString("hits.total.relation")
	pathTimedOut          = jp.MustParseString("timed_out")
	pathTook              = jp.MustParseString("took")
	pathLastSort          = jp.MustParseString("hits.hits[-1].sort")
)

// SearchRunner issues a request body search. With a pages parameter it
// pages through the result set with search_after and weighs the operation
// by the number of retrieved pages.
//
// Mandatory parameters: index and body. Optional: results-per-page
// (mandatory for paginated searches), cache, detailed-results, pages,
// request-params, request-timeout.
type SearchRunner struct{}

func (r *SearchRunner) Name() string { return "search" }

func (r *SearchRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	ctx, cancel, err := applyRequestTimeout(ctx, params)
	if err != nil {
		return nil, err
	}
	defer cancel()

	index, err := MandatoryString(params, "index", r.Name())
	if err != nil {
		return nil, err
	}
	bodyRaw, err := Mandatory(params, "body", r.Name())
	if err != nil {
		return nil, err
	}
	bodyMap, ok := bodyRaw.(map[string]any)
	if !ok {
		return nil, types.NewDataError("parameter 'body' of operation '%s' must be an object, got %T", r.Name(), bodyRaw)
	}

	// The parameter source owns the body map; copy before mutating it so
	// pagination state never leaks into the next iteration.
	body := make(map[string]any, len(bodyMap)+2)
	for k, v := range bodyMap {
		body[k] = v
	}

	size, hasSize := asInt(params["results-per-page"])
	if hasSize {
		body["size"] = size
	}

	queryParams := requestParams(params)
	if cache, ok := params["cache"].(bool); ok {
		if queryParams == nil {
			queryParams = make(map[string]string, 1)
		}
		queryParams["request_cache"] = strconv.FormatBool(cache)
	}
	headers := headerParams(params)

	if _, paginated := params["pages"]; paginated {
		return r.paginatedSearch(ctx, client, params, index, body, size, hasSize, queryParams, headers)
	}

	doc, err := r.search(ctx, client, index, body, queryParams, headers)
	if err != nil {
		return nil, err
	}

	if !boolParam(params, "detailed-results", false) {
		return SuccessResult(), nil
	}

	hits, relation := totalHits(doc)
	timedOut, _ := pathTimedOut.First(doc).(bool)
	took, _ := asInt(pathTook.First(doc))
	return &Result{
		Weight:  1,
		Unit:    "ops",
		Success: true,
		Meta: map[string]any{
			"hits":          hits,
			"hits_relation": relation,
			"timed_out":     timedOut,
			"took":          took,
		},
	}, nil
}

func (r *SearchRunner) search(ctx context.Context, client Transport, index string, body map[string]any, queryParams, headers map[string]string) (any, error) {
	payload, err := oj.Marshal(body)
	if err != nil {
		return nil, types.NewDataError("failed to encode search body: %v", err)
	}

	rsp, err := client.Do(ctx, &cluster.Request{
		Method:  fasthttp.MethodPost,
		Path:    "/" + index + "/_search",
		Params:  queryParams,
		Headers: headers,
		Body:    payload,
	})
	if err != nil {
		return nil, err
	}
	if rsp.IsError() {
		return nil, newHTTPError(rsp)
	}

	doc, err := oj.Parse(rsp.Body)
	if err != nil {
		return nil, types.NewDataError("failed to parse search response: %v", err)
	}
	return doc, nil
}

func (r *SearchRunner) paginatedSearch(ctx context.Context, client Transport, params map[string]any, index string, body map[string]any, size int64, hasSize bool, queryParams, headers map[string]string) (*Result, error) {
	totalPages, err := r.totalPages(params)
	if err != nil {
		return nil, err
	}
	if !hasSize || size <= 0 {
		return nil, types.NewDataError(
			"Parameter source for operation '%s' did not provide the mandatory parameter 'results-per-page'. "+
				"Add it to your parameter source and try again.", r.Name())
	}

	var (
		hits      int64
		relation  string
		timedOut  bool
		took      int64
		retrieved int64
	)

	for page := int64(1); page <= totalPages; page++ {
		doc, err := r.search(ctx, client, index, body, queryParams, headers)
		if err != nil {
			return nil, err
		}
		retrieved = page

		if page == 1 {
			hits, relation = totalHits(doc)
		}
		if t, ok := pathTimedOut.First(doc).(bool); ok && t {
			timedOut = true
		}
		if t, ok := asInt(pathTook.First(doc)); ok {
			took += t
		}

		// All hits collected once the pages so far cover the total.
		if hits <= page*size {
			break
		}
		lastSort := pathLastSort.First(doc)
		if lastSort == nil {
			break
		}
		body["search_after"] = lastSort
	}

	return &Result{
		Weight:  float64(retrieved),
		Unit:    "pages",
		Success: true,
		Meta: map[string]any{
			"pages":         retrieved,
			"hits":          hits,
			"hits_relation": relation,
			"timed_out":     timedOut,
			"took":          took,
		},
	}, nil
}

func (r *SearchRunner) totalPages(params map[string]any) (int64, error) {
	raw := params["pages"]
	if s, ok := asString(raw); ok && s == "all" {
		return math.MaxInt64, nil
	}
	pages, ok := asInt(raw)
	if !ok || pages <= 0 {
		return 0, types.NewDataError("parameter 'pages' of operation '%s' must be a positive number or \"all\", got %v", r.Name(), raw)
	}
	return pages, nil
}

// totalHits reads the hit count, tolerating clusters that report a plain
// number instead of the value/relation object.
func totalHits(doc any) (int64, string) {
	if value, ok := asInt(pathHitsTotalValue.First(doc)); ok {
		relation, _ := pathHitsTotalRelation.First(doc).(string)
		if relation == "" {
			relation = "eq"
		}
		return value, relation
	}
	if value, ok := asInt(pathHitsTotal.First(doc)); ok {
		return value, "eq"
	}
	return 0, "eq"
}
